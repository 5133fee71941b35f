package relay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pontoon/clientops"
	"pontoon/config"
	"pontoon/errors"
	"pontoon/session"
)

func numberedLines(n int) string {
	var sb strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&sb, "line %d\n", i)
	}
	return sb.String()
}

func TestPaginateLineCap(t *testing.T) {
	content := numberedLines(2500)

	var pages []*ReadResult
	line := 1
	for {
		page := paginate(content, line, 0)
		pages = append(pages, page)
		if !page.HasMore {
			break
		}
		line = page.NextLine
	}

	require.Len(t, pages, 3)
	assert.Equal(t, 1001, pages[0].NextLine)
	assert.Equal(t, 2001, pages[1].NextLine)
	assert.False(t, pages[2].HasMore)
	assert.Equal(t, 2500, pages[0].TotalLines)
	assert.Equal(t, len(content), pages[0].TotalBytes)

	var joined strings.Builder
	for _, p := range pages {
		joined.WriteString(p.Content)
	}
	assert.Equal(t, content, joined.String(), "concatenated pages must reproduce the file")
}

func TestPaginateByteCap(t *testing.T) {
	// 20 lines of 10KB each: the 50KB budget binds before the line budget.
	line := strings.Repeat("x", 10*1024-1) + "\n"
	content := strings.Repeat(line, 20)

	page := paginate(content, 1, 0)
	assert.True(t, page.HasMore)
	assert.Equal(t, 6, page.NextLine, "five 10KB lines fit the 50KB budget")
	assert.Equal(t, strings.Repeat(line, 5), page.Content)
}

func TestPaginateOversizedSingleLine(t *testing.T) {
	content := strings.Repeat("y", 80*1024) + "\nsecond\n"
	page := paginate(content, 1, 0)
	assert.True(t, page.HasMore)
	assert.Equal(t, 2, page.NextLine, "a line larger than the byte budget is still returned whole")
	assert.Equal(t, strings.Repeat("y", 80*1024)+"\n", page.Content)
}

func TestPaginateNoTrailingNewline(t *testing.T) {
	content := "a\nb\nc"
	page := paginate(content, 1, 0)
	assert.False(t, page.HasMore)
	assert.Equal(t, content, page.Content)
	assert.Equal(t, 3, page.TotalLines)
}

func TestPaginatePastEnd(t *testing.T) {
	page := paginate("a\nb\n", 10, 0)
	assert.Empty(t, page.Content)
	assert.False(t, page.HasMore)
}

func TestPaginateRequestedWindow(t *testing.T) {
	content := numberedLines(10)
	page := paginate(content, 3, 2)
	assert.Equal(t, "line 3\nline 4\n", page.Content)
	assert.True(t, page.HasMore)
	assert.Equal(t, 5, page.NextLine)
}

func newDiskService(t *testing.T, mode session.Mode) (*Service, string) {
	t.Helper()
	store := session.NewStore()
	_, err := store.Create("sess-1", "relay-token-1", mode, config.DefaultProvider, "claude-sonnet-4-0")
	require.NoError(t, err)
	svc := New(store, clientops.NewQueue(4), config.FilesystemAccess{
		Hidden:   []string{"**/.secrets/**"},
		ReadOnly: []string{"**/frozen.txt"},
	})
	return svc, "relay-token-1"
}

func TestReadTextFileFromDisk(t *testing.T) {
	svc, token := newDiskService(t, session.ModeAuto)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("alpha\nbeta\n"), 0644))

	page, err := svc.ReadTextFile(context.Background(), token, path, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "alpha\nbeta\n", page.Content)
	assert.False(t, page.HasMore)
}

func TestReadTextFileMissing(t *testing.T) {
	svc, token := newDiskService(t, session.ModeAuto)
	_, err := svc.ReadTextFile(context.Background(), token, filepath.Join(t.TempDir(), "absent.txt"), 0, 0)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestReadTextFileUnknownToken(t *testing.T) {
	svc, _ := newDiskService(t, session.ModeAuto)
	_, err := svc.ReadTextFile(context.Background(), "bogus-token", "whatever.txt", 0, 0)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestHiddenPathDenied(t *testing.T) {
	svc, token := newDiskService(t, session.ModeAuto)
	_, err := svc.ReadTextFile(context.Background(), token, "/work/.secrets/key.pem", 0, 0)
	assert.True(t, errors.IsKind(err, errors.KindPermissionDenied))
}

func TestReadOnlyGlobDenied(t *testing.T) {
	svc, token := newDiskService(t, session.ModeAuto)
	err := svc.WriteTextFile(context.Background(), token, "/work/frozen.txt", "nope")
	assert.True(t, errors.IsKind(err, errors.KindPermissionDenied))
}

func TestWriteRejectedInReadOnlySession(t *testing.T) {
	svc, token := newDiskService(t, session.ModeReadOnly)
	path := filepath.Join(t.TempDir(), "out.txt")

	err := svc.WriteTextFile(context.Background(), token, path, "content")
	assert.True(t, errors.IsKind(err, errors.KindReadOnlySession))

	err = svc.EditTextFile(context.Background(), token, path, Edit{Find: "a", Replace: "b"})
	assert.True(t, errors.IsKind(err, errors.KindReadOnlySession))
}

func TestWriteDoesNotCreateParentDirs(t *testing.T) {
	svc, token := newDiskService(t, session.ModeAuto)
	path := filepath.Join(t.TempDir(), "missing", "deep", "out.txt")
	err := svc.WriteTextFile(context.Background(), token, path, "content")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	svc, token := newDiskService(t, session.ModeAuto)
	path := filepath.Join(t.TempDir(), "out.txt")

	require.NoError(t, svc.WriteTextFile(context.Background(), token, path, "hello\nworld\n"))
	page, err := svc.ReadTextFile(context.Background(), token, path, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", page.Content)
}

func TestEditExactlyOnce(t *testing.T) {
	svc, token := newDiskService(t, session.ModeAuto)
	path := filepath.Join(t.TempDir(), "main.txt")
	require.NoError(t, os.WriteFile(path, []byte("one two three\n"), 0644))
	ctx := context.Background()

	err := svc.EditTextFile(ctx, token, path, Edit{Find: "absent", Replace: "x"})
	assert.True(t, errors.IsKind(err, errors.KindNoMatch))

	require.NoError(t, os.WriteFile(path, []byte("dup dup\n"), 0644))
	err = svc.EditTextFile(ctx, token, path, Edit{Find: "dup", Replace: "x"})
	assert.True(t, errors.IsKind(err, errors.KindNoMatch), "ambiguous match must be rejected")

	require.NoError(t, os.WriteFile(path, []byte("one two three\n"), 0644))
	require.NoError(t, svc.EditTextFile(ctx, token, path, Edit{Find: "two", Replace: "2"}))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "one 2 three\n", string(got))
}

func TestMultiEditAllOrNothing(t *testing.T) {
	svc, token := newDiskService(t, session.ModeAuto)
	path := filepath.Join(t.TempDir(), "prog.txt")
	original := "alpha\nbeta\ngamma\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0644))

	err := svc.MultiEditTextFile(context.Background(), token, path, []Edit{
		{Find: "alpha", Replace: "ALPHA"},
		{Find: "missing", Replace: "x"},
	})
	assert.True(t, errors.IsKind(err, errors.KindNoMatch))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, string(got), "failed multi-edit must leave the file untouched")

	require.NoError(t, svc.MultiEditTextFile(context.Background(), token, path, []Edit{
		{Find: "alpha", Replace: "ALPHA"},
		{Find: "gamma", Replace: "GAMMA"},
	}))
	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ALPHA\nbeta\nGAMMA\n", string(got))
}

func TestMultiEditSequentialMatching(t *testing.T) {
	svc, token := newDiskService(t, session.ModeAuto)
	path := filepath.Join(t.TempDir(), "seq.txt")
	require.NoError(t, os.WriteFile(path, []byte("aa\n"), 0644))

	// The second edit matches text produced by the first.
	require.NoError(t, svc.MultiEditTextFile(context.Background(), token, path, []Edit{
		{Find: "aa", Replace: "ab"},
		{Find: "ab", Replace: "ac"},
	}))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ac\n", string(got))
}

// fakeClient answers native read/write ops the way an editor would: it slices
// the requested line window out of an in-memory document.
type fakeClient struct {
	content string
	writes  map[string]string
}

func (f *fakeClient) serve(t *testing.T, q *clientops.Queue) {
	t.Helper()
	go func() {
		for op := range q.Ops() {
			switch op.Kind {
			case clientops.KindReadTextFile:
				lines := strings.SplitAfter(f.content, "\n")
				if lines[len(lines)-1] == "" {
					lines = lines[:len(lines)-1]
				}
				start := op.Read.Line - 1
				if start < 0 {
					start = 0
				}
				if start > len(lines) {
					start = len(lines)
				}
				end := len(lines)
				if op.Read.Limit > 0 && start+op.Read.Limit < end {
					end = start + op.Read.Limit
				}
				op.Resolve(clientops.Result{Read: &clientops.ReadTextFileResult{
					Content: strings.Join(lines[start:end], ""),
				}})
			case clientops.KindWriteTextFile:
				f.writes[op.Write.Path] = op.Write.Content
				op.Resolve(clientops.Result{})
			default:
				op.Resolve(clientops.Result{Err: fmt.Errorf("unexpected op %s", op.Kind)})
			}
		}
	}()
}

func newClientService(t *testing.T, content string) (*Service, *fakeClient, string) {
	t.Helper()
	store := session.NewStore()
	store.SetClientCapabilities(session.Capabilities{ReadTextFile: true, WriteTextFile: true})
	_, err := store.Create("sess-1", "relay-token-1", session.ModeAuto, config.DefaultProvider, "claude-sonnet-4-0")
	require.NoError(t, err)

	queue := clientops.NewQueue(4)
	fc := &fakeClient{content: content, writes: make(map[string]string)}
	fc.serve(t, queue)
	return New(store, queue, config.FilesystemAccess{}), fc, "relay-token-1"
}

func TestClientNativeReadPaging(t *testing.T) {
	content := numberedLines(2500)
	svc, _, token := newClientService(t, content)

	var joined strings.Builder
	line := 1
	pages := 0
	for {
		page, err := svc.ReadTextFile(context.Background(), token, "doc.txt", line, 0)
		require.NoError(t, err)
		joined.WriteString(page.Content)
		pages++
		if !page.HasMore {
			break
		}
		line = page.NextLine
	}
	assert.Equal(t, 3, pages)
	assert.Equal(t, content, joined.String())
}

func TestClientNativeWrite(t *testing.T) {
	svc, fc, token := newClientService(t, "old\n")
	require.NoError(t, svc.WriteTextFile(context.Background(), token, "doc.txt", "new\n"))
	assert.Equal(t, "new\n", fc.writes["doc.txt"])
}

func TestClientNativeEdit(t *testing.T) {
	svc, fc, token := newClientService(t, "hello old world\n")
	require.NoError(t, svc.EditTextFile(context.Background(), token, "doc.txt", Edit{Find: "old", Replace: "new"}))
	assert.Equal(t, "hello new world\n", fc.writes["doc.txt"])
}
