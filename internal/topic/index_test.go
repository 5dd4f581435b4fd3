package topic

import "testing"

func TestMatchesWildcards(t *testing.T) {
	cases := []struct {
		filter, topic string
		want          bool
	}{
		{"a/b", "a/b", true},
		{"a/b", "a/b/c", false},
		{"+/b", "a/b", true},
		{"+/b", "a/b/c", false},
		{"a/#", "a", true},
		{"a/#", "a/b", true},
		{"a/#", "a/b/c", true},
		{"#", "a/b", true},
		{"#", "$SYS/uptime", false},
		{"+/tmp", "$SYS/tmp", false},
		{"$SYS/+", "$SYS/uptime", true},
		{"sport/+", "sport/", false},
		{"sport/+", "sport", false},
		{"sport/+", "sport/temp", true},
	}
	for _, c := range cases {
		if got := Matches(c.filter, c.topic); got != c.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", c.filter, c.topic, got, c.want)
		}
	}
}

func TestValidateFilter(t *testing.T) {
	valid := []string{"a/b", "+", "#", "a/+/c", "a/#", "$share/g/a/+"}
	for _, f := range valid {
		if err := ValidateFilter(f); err != nil {
			t.Errorf("expected %q valid, got %v", f, err)
		}
	}
	invalid := []string{"", "a//b", "a/#/b", "a/b#", "a/+b"}
	for _, f := range invalid {
		if err := ValidateFilter(f); err == nil {
			t.Errorf("expected %q invalid", f)
		}
	}
}

func TestIndexSubscribeMatchUnsubscribe(t *testing.T) {
	idx := NewIndex()
	if err := idx.Subscribe(&Subscription{ClientID: "c1", Filter: "a/+/c", QoS: 1}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Subscribe(&Subscription{ClientID: "c2", Filter: "a/#", QoS: 2}); err != nil {
		t.Fatal(err)
	}

	direct, shared := idx.Match("a/b/c")
	if len(shared) != 0 {
		t.Fatalf("expected no shared matches, got %v", shared)
	}
	if len(direct) != 2 {
		t.Fatalf("expected 2 direct matches, got %d", len(direct))
	}

	if !idx.Unsubscribe("c1", "a/+/c") {
		t.Fatal("expected unsubscribe to report removal")
	}
	direct, _ = idx.Match("a/b/c")
	if len(direct) != 1 || direct[0].ClientID != "c2" {
		t.Fatalf("expected only c2 left, got %v", direct)
	}

	idx.UnsubscribeAll("c2")
	direct, _ = idx.Match("a/b/c")
	if len(direct) != 0 {
		t.Fatalf("expected no matches after UnsubscribeAll, got %v", direct)
	}
}

func TestSharedSubscriptionRoundRobin(t *testing.T) {
	idx := NewIndex()
	for _, id := range []string{"w1", "w2", "w3"} {
		if err := idx.Subscribe(&Subscription{ClientID: id, Filter: "$share/workers/jobs/new", QoS: 1}); err != nil {
			t.Fatal(err)
		}
	}

	_, shared := idx.Match("jobs/new")
	if len(shared) != 1 || shared[0].Group != "workers" || shared[0].Filter != "jobs/new" {
		t.Fatalf("unexpected shared matches: %v", shared)
	}

	live := func(string) bool { return true }
	seen := make(map[string]int)
	for i := 0; i < 6; i++ {
		id, ok := idx.PickShared("workers", "jobs/new", live)
		if !ok {
			t.Fatal("expected a live pick")
		}
		seen[id]++
	}
	for _, id := range []string{"w1", "w2", "w3"} {
		if seen[id] != 2 {
			t.Fatalf("expected round-robin fairness, got %v", seen)
		}
	}
}

func TestSharedSubscriptionSkipsDeadMembers(t *testing.T) {
	idx := NewIndex()
	for _, id := range []string{"w1", "w2"} {
		if err := idx.Subscribe(&Subscription{ClientID: id, Filter: "$share/g/x", QoS: 0}); err != nil {
			t.Fatal(err)
		}
	}
	live := func(id string) bool { return id != "w1" }
	id, ok := idx.PickShared("g", "x", live)
	if !ok || id != "w2" {
		t.Fatalf("expected w2, got %q ok=%v", id, ok)
	}
}

func TestValidateTopicName(t *testing.T) {
	if err := ValidateTopicName("a/b/c"); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"", "a/+/c", "a/#", "a//b"} {
		if err := ValidateTopicName(name); err == nil {
			t.Errorf("expected %q invalid", name)
		}
	}
}
