package processor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xhad/askdoc/internal/models"
	"github.com/xhad/askdoc/internal/types"
)

const (
	DefaultChunkSize    = 512
	DefaultChunkOverlap = 100
)

// Header metadata keys, one per heading level.
var headerKeys = [...]string{"Header 1", "Header 2", "Header 3"}

var headingPattern = regexp.MustCompile(`^(#{1,3})[ \t]+(.+?)[ \t#]*$`)

// Window boundaries in order of preference.
var separators = []string{"\n\n", "\n", " "}

type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

// Processor splits extracted text into overlapping, structure-aware chunks.
type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) (*Processor, error) {
	if config.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", types.ErrInvalidArgument, config.ChunkSize)
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		return nil, fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d",
			types.ErrInvalidArgument, config.ChunkSize, config.ChunkOverlap)
	}

	return &Processor{config: config}, nil
}

// Split is a convenience wrapper for one-off splitting.
func Split(text string, chunkSize, overlap int) ([]models.Chunk, error) {
	p, err := NewWithConfig(ProcessorConfig{ChunkSize: chunkSize, ChunkOverlap: overlap})
	if err != nil {
		return nil, err
	}
	return p.Split(text, ""), nil
}

// Config returns the processor configuration.
func (p *Processor) Config() ProcessorConfig {
	return p.config
}

// Split partitions text along level 1-3 headings and then cuts every section
// into windows of at most ChunkSize runes sharing ChunkOverlap runes.
func (p *Processor) Split(text string, sourceID string) []models.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var chunks []models.Chunk
	for _, seg := range splitSections(text) {
		for _, window := range p.splitWindows(seg.text) {
			chunks = append(chunks, models.Chunk{
				Text:     window,
				Metadata: copyMetadata(seg.headers),
				SourceID: sourceID,
			})
		}
	}

	return chunks
}

type section struct {
	text    string
	headers map[string]string
}

// splitSections cuts text at heading lines. Sections are contiguous
// substrings of text and keep their heading line.
func splitSections(text string) []section {
	var (
		sections []section
		current  = map[string]string{}
		start    int
		inFence  bool
	)

	flush := func(end int, headers map[string]string) {
		if strings.TrimSpace(text[start:end]) != "" {
			sections = append(sections, section{text: text[start:end], headers: headers})
		}
		start = end
	}

	offset := 0
	for offset < len(text) {
		lineEnd := strings.IndexByte(text[offset:], '\n')
		if lineEnd < 0 {
			lineEnd = len(text)
		} else {
			lineEnd += offset + 1
		}
		line := strings.TrimRight(text[offset:lineEnd], "\r\n")

		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		} else if !inFence {
			if m := headingPattern.FindStringSubmatch(line); m != nil {
				flush(offset, current)

				level := len(m[1])
				next := make(map[string]string, level)
				for i := 0; i < level-1; i++ {
					if v, ok := current[headerKeys[i]]; ok {
						next[headerKeys[i]] = v
					}
				}
				next[headerKeys[level-1]] = strings.TrimSpace(m[2])
				current = next
			}
		}
		offset = lineEnd
	}
	flush(len(text), current)

	return sections
}

// splitWindows applies the sliding window to one section. Consecutive windows
// share exactly ChunkOverlap runes, so dropping that prefix from every window
// after the first reconstructs the section.
func (p *Processor) splitWindows(text string) []string {
	runes := []rune(text)
	size, overlap := p.config.ChunkSize, p.config.ChunkOverlap

	var windows []string
	start := 0
	for {
		if len(runes)-start <= size {
			windows = append(windows, string(runes[start:]))
			return windows
		}

		end := breakPoint(runes, start+overlap+1, start+size)
		windows = append(windows, string(runes[start:end]))
		start = end - overlap
	}
}

// breakPoint returns the preferred window end in [min, limit]. The window ends
// right after the last separator that fits, or at limit when none does.
func breakPoint(runes []rune, min, limit int) int {
	for _, sep := range separators {
		sr := []rune(sep)
		for end := limit; end >= min; end-- {
			if end-len(sr) < 0 {
				break
			}
			if hasRunes(runes[end-len(sr):end], sr) {
				return end
			}
		}
	}
	return limit
}

func hasRunes(window, sep []rune) bool {
	for i := range sep {
		if window[i] != sep[i] {
			return false
		}
	}
	return true
}

func copyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
