package relay

import "strings"

const (
	// A read response never exceeds maxPageLines lines or maxPageBytes bytes
	// of content, whichever binds first.
	maxPageLines = 1000
	maxPageBytes = 50 * 1024
)

// ReadResult is one page of a file read. NextLine is the 1-based line offset
// to resume from when HasMore is set. Concatenating page contents in cursor
// order reproduces the underlying file byte for byte.
type ReadResult struct {
	Content    string `json:"content"`
	HasMore    bool   `json:"hasMore"`
	NextLine   int    `json:"nextLine,omitempty"`
	TotalLines int    `json:"totalLines,omitempty"`
	TotalBytes int    `json:"totalBytes,omitempty"`
}

// splitKeepEnds splits content into lines, each retaining its terminating
// newline. A trailing fragment without a newline is its own line.
func splitKeepEnds(content string) []string {
	if content == "" {
		return nil
	}
	var lines []string
	for {
		idx := strings.IndexByte(content, '\n')
		if idx < 0 {
			lines = append(lines, content)
			return lines
		}
		lines = append(lines, content[:idx+1])
		content = content[idx+1:]
		if content == "" {
			return lines
		}
	}
}

// clampPageLimit bounds a caller-requested line count to the page ceiling.
// Zero or negative means "as much as fits one page".
func clampPageLimit(maxLines int) int {
	if maxLines <= 0 || maxLines > maxPageLines {
		return maxPageLines
	}
	return maxLines
}

// paginate slices one page out of content. startLine is 1-based; values
// below 1 read from the start. At least one line is always returned when any
// remain, even if it alone exceeds the byte budget.
func paginate(content string, startLine, maxLines int) *ReadResult {
	lines := splitKeepEnds(content)
	limit := clampPageLimit(maxLines)

	start := 0
	if startLine > 1 {
		start = startLine - 1
	}
	if start >= len(lines) {
		return &ReadResult{TotalLines: len(lines), TotalBytes: len(content)}
	}

	var page strings.Builder
	end := start
	for end < len(lines) && end-start < limit {
		line := lines[end]
		if end > start && page.Len()+len(line) > maxPageBytes {
			break
		}
		page.WriteString(line)
		end++
	}

	res := &ReadResult{
		Content:    page.String(),
		TotalLines: len(lines),
		TotalBytes: len(content),
	}
	if end < len(lines) {
		res.HasMore = true
		res.NextLine = end + 1
	}
	return res
}
