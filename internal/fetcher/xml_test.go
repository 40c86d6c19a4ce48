package fetcher

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

type testVar struct {
	Name  string `xml:"name,attr"`
	Label string `xml:"labl"`
}

// streamVars drains StreamXML over <var> elements.
func streamVars(ctx context.Context, r io.Reader) ([]testVar, error) {
	itemCh, errCh := StreamXML[testVar](ctx, r, "var")
	var items []testVar
	for item := range itemCh {
		items = append(items, item)
	}
	return items, <-errCh
}

func TestStreamXML(t *testing.T) {
	input := `<codeBook><dataDscr>
		<var name="Q1"><labl>Âge</labl></var>
		<varGrp><var name="Q2"><labl>Sexe</labl></var></varGrp>
	</dataDscr></codeBook>`

	vars, err := streamVars(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []testVar{{"Q1", "Âge"}, {"Q2", "Sexe"}}, vars)
}

func TestStreamXML_Latin1(t *testing.T) {
	body, err := charmap.ISO8859_1.NewEncoder().String(`<?xml version="1.0" encoding="ISO-8859-1"?>
<codeBook><var name="Q1"><labl>Région</labl></var></codeBook>`)
	require.NoError(t, err)

	vars, err := streamVars(context.Background(), strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, vars, 1)
	assert.Equal(t, "Région", vars[0].Label)
}

func TestStreamXML_UnknownCharset(t *testing.T) {
	input := `<?xml version="1.0" encoding="x-klingon"?><codeBook/>`
	_, err := streamVars(context.Background(), strings.NewReader(input))
	assert.Error(t, err)
}

func TestStreamXML_Malformed(t *testing.T) {
	_, err := streamVars(context.Background(), strings.NewReader(`<codeBook><var name="Q1">`))
	assert.Error(t, err)
}

func TestStreamXML_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := streamVars(ctx, strings.NewReader(`<codeBook/>`))
	assert.ErrorIs(t, err, context.Canceled)
}
