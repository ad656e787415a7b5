package collector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFilterSpec(t *testing.T) {
	t.Parallel()

	spec, err := ParseFilterSpec("no_short")
	require.NoError(t, err)
	require.Equal(t, FilterSpec{Name: "no_short"}, spec)

	spec, err = ParseFilterSpec("no_short:30")
	require.NoError(t, err)
	require.Equal(t, FilterSpec{Name: "no_short", Threshold: 30}, spec)

	_, err = ParseFilterSpec("no_short:abc")
	require.Error(t, err)

	_, err = ParseFilterSpec("no_short:-1")
	require.Error(t, err)
}

func TestPipelineRejectsUnknownFilter(t *testing.T) {
	t.Parallel()

	_, err := NewFilterPipeline(SourceWeb, []FilterSpec{{Name: "bogus"}})
	require.ErrorContains(t, err, "unknown filter")
}

func TestBaselineBounds(t *testing.T) {
	t.Parallel()

	p := mustPipeline(t, SourceWeb, nil)

	require.False(t, p.Accept(""))
	require.False(t, p.Accept("   "))
	require.False(t, p.Accept("hey"), "below the 5-rune minimum")
	require.False(t, p.Accept(strings.Repeat("a", 1001)), "above the 1000-rune maximum")
	require.False(t, p.Accept("12345 6789 !!!"), "numbers and symbols only")
	require.True(t, p.Accept("a perfectly reasonable sentence"))
	require.True(t, p.Accept("这是一段合理的中文内容"))
}

func TestBaselineBoundsPerSourceType(t *testing.T) {
	t.Parallel()

	// 10 runes: passes the web minimum of 5 but not zhihu's minimum of 20.
	short := "ten runes!"
	require.True(t, mustPipeline(t, SourceWeb, nil).Accept(short))
	require.False(t, mustPipeline(t, SourceZhihu, nil).Accept(short))

	// 600 runes: within file's 2000 maximum but over api's 500.
	long := strings.Repeat("word ", 120)
	require.True(t, mustPipeline(t, SourceFile, nil).Accept(long))
	require.False(t, mustPipeline(t, SourceAPI, nil).Accept(long))
}

func TestNoShortFilter(t *testing.T) {
	t.Parallel()

	// Web default no_short threshold is 20 runes.
	p := mustPipeline(t, SourceWeb, []FilterSpec{{Name: "no_short"}})
	require.False(t, p.Accept("nineteen runes here"))
	require.True(t, p.Accept("twenty one runes here"))

	// Explicit threshold overrides the default.
	p = mustPipeline(t, SourceWeb, []FilterSpec{{Name: "no_short", Threshold: 10}})
	require.True(t, p.Accept("ten runes!"))
	require.False(t, p.Accept("only nine"))
}

func TestNoLongFilter(t *testing.T) {
	t.Parallel()

	p := mustPipeline(t, SourceWeb, []FilterSpec{{Name: "no_long", Threshold: 30}})
	require.True(t, p.Accept("short enough to keep"))
	require.False(t, p.Accept("this sentence runs past the thirty rune ceiling"))
}

func TestNoURLFilter(t *testing.T) {
	t.Parallel()

	p := mustPipeline(t, SourceWeb, []FilterSpec{{Name: "no_url"}})
	require.False(t, p.Accept("check out https://example.com today"))
	require.False(t, p.Accept("plain http://example.com link"))
	require.True(t, p.Accept("no links in this sentence"))
}

func TestNoEmailFilter(t *testing.T) {
	t.Parallel()

	p := mustPipeline(t, SourceWeb, []FilterSpec{{Name: "no_email"}})
	require.False(t, p.Accept("contact me at someone@example.com please"))
	require.True(t, p.Accept("an @ sign alone is acceptable text"))
}

func TestChineseOnlyFilter(t *testing.T) {
	t.Parallel()

	p := mustPipeline(t, SourceWeb, []FilterSpec{{Name: "chinese_only"}})
	require.True(t, p.Accept("这段内容包含中文字符"))
	require.True(t, p.Accept("mixed 中文 and english"))
	require.False(t, p.Accept("pure english sentence here"))
}

func TestFiltersApplyInOrderAllMustPass(t *testing.T) {
	t.Parallel()

	p := mustPipeline(t, SourceWeb, []FilterSpec{
		{Name: "no_short", Threshold: 10},
		{Name: "no_url"},
		{Name: "chinese_only"},
	})
	require.True(t, p.Accept("这是一条没有链接的中文内容"))
	require.False(t, p.Accept("这有链接 https://example.com 不行"))
	require.False(t, p.Accept("no chinese in this one at all"))
}

func TestNoEmptyFilter(t *testing.T) {
	t.Parallel()

	// no_empty is subsumed by the baseline but must still be accepted by name.
	p := mustPipeline(t, SourceWeb, []FilterSpec{{Name: "no_empty"}})
	require.True(t, p.Accept("something worth keeping"))
	require.False(t, p.Accept("    "))
}
