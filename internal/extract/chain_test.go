package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/bnowain/FB-Monitor/internal/monitor"
)

const samplePage = `
<html><body>
<div role="article">
  <span>Big announcement today, read more below.</span>
  <a href="/somepage/posts/1111?__tn__=x">2 hrs</a>
</div>
<div role="article">
  <a href="https://www.facebook.com/somepage/posts/pfbid0abc123">Yesterday at 9:15 AM</a>
  <span>Second post text</span>
</div>
<a href="/watch/?v=1&fbid=3333">a photo</a>
<a href="/somepage/videos/4444/">3 min</a>
</body></html>`

func ids(found []Found) map[string]string {
	out := map[string]string{}
	for _, f := range found {
		out[f.ID] = f.Strategy
	}
	return out
}

func TestChainUnionsAcrossStrategies(t *testing.T) {
	c := NewChain(nil, nil)
	found := c.Extract(context.Background(), "https://www.facebook.com/somepage", samplePage)

	got := ids(found)
	for _, want := range []string{"1111", "pfbid0abc123", "3333", "4444"} {
		if _, ok := got[want]; !ok {
			t.Fatalf("missing post %s in %v", want, got)
		}
	}
	// Articles own the posts they contain; the sweep only contributes
	// the links outside any article container.
	if got["1111"] != StrategyAriaArticles {
		t.Fatalf("post 1111 attributed to %s", got["1111"])
	}
	if got["3333"] == StrategyAriaArticles {
		t.Fatal("post 3333 is outside the article containers")
	}
}

func TestChainIsIdempotent(t *testing.T) {
	c := NewChain(nil, nil)
	first := ids(c.Extract(context.Background(), "u", samplePage))
	second := ids(c.Extract(context.Background(), "u", samplePage))
	if len(first) != len(second) {
		t.Fatalf("item sets differ across runs: %v vs %v", first, second)
	}
	for id := range first {
		if _, ok := second[id]; !ok {
			t.Fatalf("post %s missing from second run", id)
		}
	}
}

func TestChainSurvivesStrategyFailure(t *testing.T) {
	boom := Strategy{
		Name: "boom",
		Run: func(context.Context, *PageInput) ([]monitor.PostRef, error) {
			return nil, errors.New("selector engine exploded")
		},
	}
	c := &Chain{
		strategies: append([]Strategy{boom}, DOMStrategies()...),
		health:     NewHealthRegistry(nil, "boom"),
	}
	found := c.Extract(context.Background(), "u", samplePage)
	if len(found) == 0 {
		t.Fatal("remaining strategies should still produce results")
	}
}

func TestDisabledStrategyYieldsSubset(t *testing.T) {
	full := NewChain(nil, nil)
	all := ids(full.Extract(context.Background(), "u", samplePage))

	// Same chain with the article strategy forced empty.
	empty := Strategy{
		Name: StrategyAriaArticles,
		Run: func(context.Context, *PageInput) ([]monitor.PostRef, error) {
			return nil, nil
		},
	}
	partial := &Chain{
		strategies: append([]Strategy{empty}, DOMStrategies()[1:]...),
		health:     NewHealthRegistry(nil),
	}
	subset := ids(partial.Extract(context.Background(), "u", samplePage))

	for id := range subset {
		if _, ok := all[id]; !ok {
			t.Fatalf("post %s found only with a strategy disabled", id)
		}
	}
}

func TestFirstStrategyWinsProvenance(t *testing.T) {
	c := NewChain(nil, nil)
	found := c.Extract(context.Background(), "u", samplePage)
	for _, f := range found {
		if f.ID == "1111" && f.Strategy != StrategyAriaArticles {
			t.Fatalf("provenance of 1111 stolen by %s", f.Strategy)
		}
	}
}
