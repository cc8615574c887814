package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConflictPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    ConflictPolicy
		wantErr bool
	}{
		{in: "", want: ConflictReplace},
		{in: "replace", want: ConflictReplace},
		{in: " Fail ", want: ConflictFail},
		{in: "RENAME", want: ConflictRename},
		{in: "overwrite", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseConflictPolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCleanPath(t *testing.T) {
	assert.Equal(t, "SplitOut/part_1.pdf", CleanPath("/SplitOut//part_1.pdf"))
	assert.Equal(t, "a/b.pdf", CleanPath(`a\b.pdf`))
	assert.Equal(t, "etc/passwd", CleanPath("../../etc/passwd"))
}

func TestFreeName(t *testing.T) {
	taken := map[string]bool{
		"out/part_1.pdf":     true,
		"out/part_1 (1).pdf": true,
	}
	exists := func(_ context.Context, p string) (bool, error) { return taken[p], nil }

	got, err := FreeName(context.Background(), "out/part_1.pdf", exists)
	require.NoError(t, err)
	assert.Equal(t, "out/part_1 (2).pdf", got)

	got, err = FreeName(context.Background(), "out/part_2.pdf", exists)
	require.NoError(t, err)
	assert.Equal(t, "out/part_2.pdf", got)

	boom := errors.New("boom")
	_, err = FreeName(context.Background(), "x", func(context.Context, string) (bool, error) { return false, boom })
	assert.ErrorIs(t, err, boom)
}

func TestForEachSlice(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefghij"), 5)

	var sizes []int
	var joined []byte
	require.NoError(t, ForEachSlice(bytes.NewReader(data), 16, func(s []byte) error {
		sizes = append(sizes, len(s))
		joined = append(joined, s...)
		return nil
	}))
	assert.Equal(t, []int{16, 16, 16, 2}, sizes)
	assert.Equal(t, data, joined)

	calls := 0
	require.NoError(t, ForEachSlice(bytes.NewReader(nil), 16, func([]byte) error {
		calls++
		return nil
	}))
	assert.Zero(t, calls)

	assert.Error(t, ForEachSlice(bytes.NewReader(data), 0, func([]byte) error { return nil }))
}

func TestErrorKinds(t *testing.T) {
	lookup := NotFound("resolve download url", CodeItemNotFound, "item %q not found", "a.pdf")
	wrapped := fmt.Errorf("failed to resolve source: %w", lookup)
	assert.True(t, IsLookup(wrapped))
	assert.False(t, IsTransfer(wrapped))
	assert.Contains(t, wrapped.Error(), CodeItemNotFound)

	transfer := &TransferError{Op: "upload", Path: "out/part_1.pdf", Err: ErrUploadIncomplete}
	wrapped = fmt.Errorf("part 1: %w", transfer)
	assert.True(t, IsTransfer(wrapped))
	assert.False(t, IsLookup(wrapped))
	assert.ErrorIs(t, wrapped, ErrUploadIncomplete)
}
