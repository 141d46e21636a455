package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlainTextExtractSingleUnitWithoutPageBreaks(t *testing.T) {
	units, err := PlainText{}.Extract(context.Background(), "text/plain", strings.NewReader("just one page of content"))
	require.NoError(t, err)
	require.Len(t, units, 1)
	require.Nil(t, units[0].PageNumber)
}

func TestPlainTextExtractSplitsOnFormFeed(t *testing.T) {
	body := "page 1 content\fpage 2 content\fpage 3 content"
	units, err := PlainText{}.Extract(context.Background(), "text/plain", strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, units, 3)
	for i, u := range units {
		require.NotNil(t, u.PageNumber)
		require.Equal(t, i+1, *u.PageNumber)
	}
}

func TestPlainTextExtractEmptyInputProducesNoUnits(t *testing.T) {
	units, err := PlainText{}.Extract(context.Background(), "text/plain", strings.NewReader("   "))
	require.NoError(t, err)
	require.Empty(t, units)
}
