package persona

import (
	"math/rand/v2"
	"testing"
)

func TestSeedTopicsHaveTeacherAndPeers(t *testing.T) {
	catalog := NewMemoryCatalog(Seed())

	for _, topic := range catalog.Topics() {
		if _, ok := catalog.Teacher(topic); !ok {
			t.Fatalf("topic %s has no teacher", topic)
		}
		if peers := Peers(catalog.ForTopic(topic)); len(peers) < 3 {
			t.Fatalf("topic %s has %d peers, want at least 3", topic, len(peers))
		}
	}
}

func TestCatalogTopicLookupIsCaseInsensitive(t *testing.T) {
	catalog := NewMemoryCatalog(Seed())
	if got := catalog.ForTopic("  Education "); len(got) == 0 {
		t.Fatal("expected personas for mixed-case topic")
	}
}

func TestFindByID(t *testing.T) {
	catalog := NewMemoryCatalog(Seed())

	p, ok := catalog.FindByID("leo")
	if !ok {
		t.Fatal("expected leo to be found")
	}
	if p.Name != "Leo" {
		t.Fatalf("unexpected name %s", p.Name)
	}
	if _, ok := catalog.FindByID("missing"); ok {
		t.Fatal("expected missing persona lookup to fail")
	}
}

func TestPickCapsAndDoesNotMutatePool(t *testing.T) {
	pool := Peers(Seed()["education"])
	first := pool[0].ID
	rng := rand.New(rand.NewPCG(1, 2))

	got := Pick(pool, 3, rng)
	if len(got) != 3 {
		t.Fatalf("expected 3 personas, got %d", len(got))
	}
	if pool[0].ID != first {
		t.Fatal("pool order was modified")
	}

	seen := make(map[string]bool)
	for _, p := range got {
		if seen[p.ID] {
			t.Fatalf("persona %s picked twice", p.ID)
		}
		seen[p.ID] = true
	}
}

func TestMatch(t *testing.T) {
	candidates := Seed()["education"]

	cases := []struct {
		text string
		want string
		ok   bool
	}{
		{text: "Hey LEO, what do you think?", want: "leo", ok: true},
		{text: "Question for the teacher: how long should it be?", want: "ms-rivera", ok: true},
		{text: "Is leopard a word here?", ok: false},
		{text: "no names at all", ok: false},
	}

	for _, tc := range cases {
		got, ok := Match(candidates, tc.text)
		if ok != tc.ok {
			t.Fatalf("Match(%q) ok=%v, want %v", tc.text, ok, tc.ok)
		}
		if ok && got.ID != tc.want {
			t.Fatalf("Match(%q) = %s, want %s", tc.text, got.ID, tc.want)
		}
	}
}
