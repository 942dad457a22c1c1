package golang

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	src := "package inventory\n\nimport (\n\"context\"\n\"time\"\n)\n\nfunc  Now( ctx context.Context ) {}\n"

	out, err := Format("client.go", []byte(src))
	require.NoError(t, err)
	require.Contains(t, string(out), "func Now(ctx context.Context) {}\n")
	require.Contains(t, string(out), `"context"`)
	require.NotContains(t, string(out), `"time"`)
}

func TestFormatInvalidSource(t *testing.T) {
	_, err := Format("types.go", []byte("package inventory\n\ntype Item struct {\n"))
	var formatErr *FormatError
	require.ErrorAs(t, err, &formatErr)
	require.Equal(t, "types.go", formatErr.Filename)
	require.ErrorContains(t, err, "formatting types.go")
}
