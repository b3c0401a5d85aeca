package chunk

import (
	"context"
	"regexp"
	"strings"
)

// MarkdownChunkerOptions configures the markdown chunker behavior.
type MarkdownChunkerOptions struct {
	MaxChunkTokens int // Maximum tokens per chunk (default: DefaultMaxChunkTokens)
	OverlapTokens  int // Defaulted to DefaultOverlapTokens; not applied when splitting, so split fragments do not overlap
}

// MarkdownChunker implements header-based Markdown chunking.
type MarkdownChunker struct {
	options MarkdownChunkerOptions
}

// Regex patterns for markdown parsing.
var (
	// Matches headers: # Title, ## Title, etc.
	headerPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)

	// Matches frontmatter: ---\n...\n---
	frontmatterPattern = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n*`)
)

// NewMarkdownChunker creates a new markdown chunker with default options.
func NewMarkdownChunker() *MarkdownChunker {
	return NewMarkdownChunkerWithOptions(MarkdownChunkerOptions{})
}

// NewMarkdownChunkerWithOptions creates a new markdown chunker with custom options.
func NewMarkdownChunkerWithOptions(opts MarkdownChunkerOptions) *MarkdownChunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}
	return &MarkdownChunker{options: opts}
}

// SupportedExtensions returns file extensions this chunker handles.
func (c *MarkdownChunker) SupportedExtensions() []string {
	return []string{".md", ".markdown", ".mdx"}
}

// Chunk splits a markdown file into an ordered sequence of fragments.
func (c *MarkdownChunker) Chunk(_ context.Context, file *FileInput) ([]Fragment, error) {
	content := string(file.Content)

	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	var fragments []Fragment
	remainingContent := content

	if frontmatterMatch := frontmatterPattern.FindStringSubmatch(remainingContent); frontmatterMatch != nil {
		frontmatter := frontmatterMatch[0]
		fragments = append(fragments, c.newFragment(file, strings.TrimRight(frontmatter, "\n"), ""))
		remainingContent = remainingContent[len(frontmatter):]
	}

	sections := c.parseSections(remainingContent)
	if len(sections) == 0 {
		return append(fragments, c.chunkByParagraphs(file, remainingContent, "")...), nil
	}

	for _, sec := range sections {
		fragments = append(fragments, c.createSectionFragments(file, sec)...)
	}

	return fragments, nil
}

func (c *MarkdownChunker) newFragment(file *FileInput, text, section string) Fragment {
	meta := map[string]string{"file_path": file.Path}
	if section != "" {
		meta["section"] = section
	}
	return Fragment{Text: text, Metadata: meta}
}

// section represents a markdown section with header info.
type section struct {
	headerPath string
	content    string
}

// parseSections parses markdown content into sections.
func (c *MarkdownChunker) parseSections(content string) []*section {
	lines := strings.Split(content, "\n")
	var sections []*section
	headerStack := make([]string, 6)

	var currentSection *section
	var contentBuilder strings.Builder

	for _, line := range lines {
		if match := headerPattern.FindStringSubmatch(line); match != nil {
			if currentSection != nil {
				currentSection.content = contentBuilder.String()
				sections = append(sections, currentSection)
				contentBuilder.Reset()
			}

			level := len(match[1])
			title := strings.TrimSpace(match[2])

			headerStack[level-1] = title
			for i := level; i < 6; i++ {
				headerStack[i] = ""
			}

			var pathParts []string
			for i := 0; i < level; i++ {
				if headerStack[i] != "" {
					pathParts = append(pathParts, headerStack[i])
				}
			}

			currentSection = &section{
				headerPath: strings.Join(pathParts, " > "),
			}
			contentBuilder.WriteString(line)
			contentBuilder.WriteString("\n")
		} else {
			contentBuilder.WriteString(line)
			contentBuilder.WriteString("\n")
		}
	}

	if currentSection != nil {
		currentSection.content = contentBuilder.String()
		sections = append(sections, currentSection)
	}

	return sections
}

// createSectionFragments creates one or more fragments from a section.
func (c *MarkdownChunker) createSectionFragments(file *FileInput, sec *section) []Fragment {
	content := strings.TrimRight(sec.content, "\n")

	trimmedContent := strings.TrimSpace(content)
	lines := strings.Split(trimmedContent, "\n")
	if len(lines) <= 1 && headerPattern.MatchString(trimmedContent) {
		// Only contains the header itself.
		return nil
	}

	if estimateTokens(content) <= c.options.MaxChunkTokens {
		return []Fragment{c.newFragment(file, content, sec.headerPath)}
	}

	return c.splitLargeSection(file, sec, content)
}

// splitLargeSection splits a large section into multiple fragments by paragraph,
// preserving fenced code blocks as atomic units.
func (c *MarkdownChunker) splitLargeSection(file *FileInput, sec *section, content string) []Fragment {
	paragraphs := c.splitByParagraphs(content)

	var fragments []Fragment
	var current strings.Builder

	for i, para := range paragraphs {
		paraTokens := estimateTokens(para)
		currentTokens := estimateTokens(current.String())

		if current.Len() > 0 && currentTokens+paraTokens > c.options.MaxChunkTokens {
			fragments = append(fragments, c.newFragment(file, strings.TrimRight(current.String(), "\n "), sec.headerPath))
			current.Reset()
			if i > 0 {
				current.WriteString("<!-- Section: ")
				current.WriteString(sec.headerPath)
				current.WriteString(" -->\n\n")
			}
		}

		current.WriteString(para)
		current.WriteString("\n\n")
	}

	if current.Len() > 0 {
		fragments = append(fragments, c.newFragment(file, strings.TrimRight(current.String(), "\n "), sec.headerPath))
	}

	return fragments
}

// splitByParagraphs splits content by blank lines while keeping fenced code
// blocks that straddle a blank line merged back together.
func (c *MarkdownChunker) splitByParagraphs(content string) []string {
	parts := strings.Split(content, "\n\n")

	var paragraphs []string
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}

	return c.mergeAtomicBlocks(paragraphs)
}

// mergeAtomicBlocks merges paragraphs that are part of an unclosed fenced code block.
func (c *MarkdownChunker) mergeAtomicBlocks(paragraphs []string) []string {
	var result []string
	var inCodeBlock bool
	var codeBlockBuilder strings.Builder

	for _, para := range paragraphs {
		if inCodeBlock {
			codeBlockBuilder.WriteString("\n\n")
			codeBlockBuilder.WriteString(para)
			if strings.Contains(para, "```") {
				result = append(result, codeBlockBuilder.String())
				codeBlockBuilder.Reset()
				inCodeBlock = false
			}
			continue
		}

		if openCount := strings.Count(para, "```"); openCount > 0 && openCount%2 == 1 {
			inCodeBlock = true
			codeBlockBuilder.WriteString(para)
			continue
		}

		result = append(result, para)
	}

	if inCodeBlock {
		result = append(result, codeBlockBuilder.String())
	}

	return result
}

// chunkByParagraphs chunks content without any headers, by paragraph.
func (c *MarkdownChunker) chunkByParagraphs(file *FileInput, content, section string) []Fragment {
	paragraphs := c.splitByParagraphs(content)

	var fragments []Fragment
	var current strings.Builder

	for _, para := range paragraphs {
		paraTokens := estimateTokens(para)
		currentTokens := estimateTokens(current.String())

		if current.Len() > 0 && currentTokens+paraTokens > c.options.MaxChunkTokens {
			fragments = append(fragments, c.newFragment(file, current.String(), section))
			current.Reset()
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}

	if current.Len() > 0 {
		fragments = append(fragments, c.newFragment(file, current.String(), section))
	}

	return fragments
}

// estimateTokens estimates the number of tokens in content (~4 chars/token).
func estimateTokens(content string) int {
	return len(content) / TokensPerChar
}
