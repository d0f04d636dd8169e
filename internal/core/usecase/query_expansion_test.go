package usecase

import (
	"reflect"
	"testing"
)

func TestExpandKeepsIdentityFirst(t *testing.T) {
	e := NewQueryExpander(nil, 4)
	got := e.Expand("how do I restart the k8s db")
	want := []string{
		"how do I restart the k8s db",
		"how do I restart the kubernetes db",
		"how do I restart the k8s database",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Expand() = %v, want %v", got, want)
	}
}

func TestExpandWithoutMatchesReturnsIdentityOnly(t *testing.T) {
	got := NewQueryExpander(nil, 4).Expand("tell me about raft")
	if len(got) != 1 || got[0] != "tell me about raft" {
		t.Fatalf("expected identity only, got %v", got)
	}
}

func TestExpandHonoursCapAndExtraSynonyms(t *testing.T) {
	e := NewQueryExpander(map[string][]string{"Notes": {"journal", "notebook", "log"}}, 2)
	got := e.Expand("my notes")
	if len(got) != 2 || got[1] != "my journal" {
		t.Fatalf("expected capped expansion with custom synonym, got %v", got)
	}
	if got := NewQueryExpander(nil, 0).Expand("k8s"); len(got) != 1 {
		t.Fatalf("expansion disabled should return identity only, got %v", got)
	}
}
