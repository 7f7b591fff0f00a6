package ttml

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const threeParagraphs = `<?xml version="1.0" encoding="UTF-8"?>
<tt xmlns="http://www.w3.org/ns/ttml" xmlns:ttm="http://www.w3.org/ns/ttml#metadata" xmlns:podcasts="http://podcasts.apple.com/transcript-ttml-internal">
  <head><metadata><ttm:agent xml:id="SPEAKER_1" type="person"/></metadata></head>
  <body dur="95.5">
    <div>
      <p begin="0.000" end="4.250" ttm:agent="SPEAKER_1">
        <span podcasts:unit="sentence"><span podcasts:unit="word">Welcome</span> <span podcasts:unit="word">to</span> <span podcasts:unit="word">the</span> <span podcasts:unit="word">show.</span></span>
      </p>
      <p begin="00:04.250" end="00:09.500" ttm:agent="SPEAKER_2">
        <span podcasts:unit="sentence"><span podcasts:unit="word">Thanks</span> <span podcasts:unit="word">for</span> <span podcasts:unit="word">having</span> <span podcasts:unit="word">me.</span></span>
      </p>
      <p begin="00:01:30.000" end="00:01:35.500" ttm:agent="SPEAKER_1">
        <span podcasts:unit="sentence"><span podcasts:unit="word">Let's</span> <span podcasts:unit="word">begin.</span></span>
      </p>
    </div>
  </body>
</tt>`

func TestParseThreeParagraphs(t *testing.T) {
	res, err := New(0).Parse(threeParagraphs)
	require.NoError(t, err)
	require.Len(t, res.Utterances, 3)

	assert.Equal(t, "Welcome to the show.", res.Utterances[0].Text)
	assert.InDelta(t, 0.0, res.Utterances[0].Start, 1e-9)
	assert.InDelta(t, 4.25, res.Utterances[0].End, 1e-9)
	assert.Equal(t, 1, res.Utterances[0].Speaker)

	assert.Equal(t, "Thanks for having me.", res.Utterances[1].Text)
	assert.InDelta(t, 4.25, res.Utterances[1].Start, 1e-9)
	assert.InDelta(t, 9.5, res.Utterances[1].End, 1e-9)
	assert.Equal(t, 2, res.Utterances[1].Speaker)

	assert.InDelta(t, 90.0, res.Utterances[2].Start, 1e-9)
	assert.InDelta(t, 95.5, res.Utterances[2].End, 1e-9)
	assert.Equal(t, 1, res.Utterances[2].Speaker)

	assert.Equal(t, 2, res.SpeakerCount)
	assert.InDelta(t, 95.5, res.Duration, 1e-9)
	assert.Len(t, res.Blocks, 3)
	assert.True(t, strings.HasPrefix(res.FullText, "[00:00:00] Speaker 1: Welcome to the show."))
	assert.Contains(t, res.FullText, "[00:01:30] Speaker 1: Let's begin.")
}

func TestParseLongParagraphSplitsOnSentences(t *testing.T) {
	sentence := func(tag string) string {
		return strings.Repeat(tag+" ", 78) + "done."
	}
	text := sentence("alpha") + " " + sentence("bravo") + " " + sentence("gamma")
	require.Greater(t, len(text), 1200)

	markup := `<tt><body><div><p begin="10" end="70" ttm:agent="SPEAKER_3">` + text + `</p></div></body></tt>`
	res, err := New(500).Parse(markup)
	require.NoError(t, err)
	require.Len(t, res.Utterances, 3)

	prevStart, prevEnd := 10.0, 10.0
	var parts []string
	for _, u := range res.Utterances {
		assert.GreaterOrEqual(t, u.Start, prevStart)
		assert.GreaterOrEqual(t, u.End, prevEnd)
		assert.GreaterOrEqual(t, u.End, u.Start)
		assert.Equal(t, 3, u.Speaker)
		assert.Equal(t, 1.0, u.Confidence)
		prevStart, prevEnd = u.Start, u.End
		parts = append(parts, u.Text)
	}
	assert.InDelta(t, 10.0, res.Utterances[0].Start, 1e-9)
	assert.InDelta(t, 70.0, res.Utterances[2].End, 1e-9)
	assert.Equal(t, strings.Join(strings.Fields(text), " "), strings.Join(parts, " "))

	// Same speaker throughout, so plain-text rendering collapses to one block.
	assert.Len(t, res.Blocks, 1)
}

func TestParseSplitKeepsLeadingTerminators(t *testing.T) {
	text := "...and so it begins. Then it ends!"
	markup := `<tt><body><div><p begin="0" end="4">` + text + `</p></div></body></tt>`
	res, err := New(10).Parse(markup)
	require.NoError(t, err)
	require.Len(t, res.Utterances, 2)
	assert.Equal(t, "...and so it begins.", res.Utterances[0].Text)
	assert.Equal(t, "Then it ends!", res.Utterances[1].Text)
	assert.InDelta(t, 0.0, res.Utterances[0].Start, 1e-9)
	assert.InDelta(t, 4.0, res.Utterances[1].End, 1e-9)
}

func TestParseFallsBackToNestedSpansAndText(t *testing.T) {
	markup := `<tt><body><div>
		<p begin="1" end="2"><span>outer span</span></p>
		<p begin="2" end="3">bare   text</p>
	</div></body></tt>`
	res, err := New(0).Parse(markup)
	require.NoError(t, err)
	require.Len(t, res.Utterances, 2)
	assert.Equal(t, "outer span", res.Utterances[0].Text)
	assert.Equal(t, 0, res.Utterances[0].Speaker)
	assert.Equal(t, "bare text", res.Utterances[1].Text)
}

func TestParseNamedAgentsGetStableIDs(t *testing.T) {
	markup := `<tt><body><div>
		<p begin="0" end="1" ttm:agent="host">a</p>
		<p begin="1" end="2" ttm:agent="guest">b</p>
		<p begin="2" end="3" ttm:agent="host">c</p>
	</div></body></tt>`
	res, err := New(0).Parse(markup)
	require.NoError(t, err)
	require.Len(t, res.Utterances, 3)
	assert.Equal(t, 1, res.Utterances[0].Speaker)
	assert.Equal(t, 2, res.Utterances[1].Speaker)
	assert.Equal(t, 1, res.Utterances[2].Speaker)
}

func TestParseMalformedMarkupDoesNotFail(t *testing.T) {
	markup := `<tt><body><div><p begin="0.5" end="garbage" ttm:agent="SPEAKER_1"><span podcasts:unit="word">still</span> <span podcasts:unit="word">here`
	res, err := New(0).Parse(markup)
	require.NoError(t, err)
	require.Len(t, res.Utterances, 1)
	assert.Equal(t, "still here", res.Utterances[0].Text)
	assert.InDelta(t, 0.5, res.Utterances[0].End, 1e-9)
}

func TestParseWithoutParagraphs(t *testing.T) {
	_, err := New(0).Parse(`<tt><body>nothing timed here</body></tt>`)
	assert.ErrorIs(t, err, ErrNoUtterances)

	_, err = New(0).Parse("   ")
	assert.ErrorIs(t, err, ErrNoUtterances)

	assert.Equal(t, "nothing timed here", StripTags(`<tt><body>nothing <b>timed</b> here</body></tt>`))
}

func TestParseTimestamp(t *testing.T) {
	cases := map[string]float64{
		"01:02:03.500": 3723.5,
		"02:03.250":    123.25,
		"42.125":       42.125,
		"7s":           7,
		"":             0,
		"abc":          0,
		"1:2:3:4":      0,
	}
	for in, want := range cases {
		assert.InDelta(t, want, ParseTimestamp(in), 1e-9, "ParseTimestamp(%q)", in)
	}
}

func TestParseNamedAgentsAvoidNumericIDs(t *testing.T) {
	markup := `<tt><body><div>
		<p begin="0" end="1" ttm:agent="host">a</p>
		<p begin="1" end="2" ttm:agent="SPEAKER_1">b</p>
		<p begin="2" end="3" ttm:agent="guest">c</p>
		<p begin="3" end="4" ttm:agent="SPEAKER_3">d</p>
	</div></body></tt>`
	res, err := New(0).Parse(markup)
	require.NoError(t, err)
	require.Len(t, res.Utterances, 4)
	assert.Equal(t, 2, res.Utterances[0].Speaker)
	assert.Equal(t, 1, res.Utterances[1].Speaker)
	assert.Equal(t, 4, res.Utterances[2].Speaker)
	assert.Equal(t, 3, res.Utterances[3].Speaker)
	assert.Equal(t, 4, res.SpeakerCount)
	assert.Len(t, res.Blocks, 4)
}
