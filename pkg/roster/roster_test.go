package roster

import (
	"context"
	"testing"
)

func TestEntity_SearchTerms(t *testing.T) {
	tests := []struct {
		name   string
		entity Entity
		want   []string
	}{
		{
			name:   "name_only",
			entity: Entity{Name: "Ada Vale"},
			want:   []string{"Ada Vale"},
		},
		{
			name:   "name_and_aliases",
			entity: Entity{Name: "Ada Vale", Aliases: []string{"A. Vale", "Vale"}},
			want:   []string{"Ada Vale", "A. Vale", "Vale"},
		},
		{
			name:   "duplicates_and_blanks_removed",
			entity: Entity{Name: "Ada Vale", Aliases: []string{"ada vale", "  ", "Vale"}},
			want:   []string{"Ada Vale", "Vale"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.entity.SearchTerms()
			if len(got) != len(tt.want) {
				t.Fatalf("SearchTerms() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("SearchTerms()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestEntity_Matches(t *testing.T) {
	entity := Entity{Name: "Ada Vale", Aliases: []string{"AVale"}}

	if !entity.Matches("ADA VALE spotted at premiere") {
		t.Error("Expected case-insensitive match on name")
	}
	if !entity.Matches("exclusive interview with avale") {
		t.Error("Expected match on alias")
	}
	if entity.Matches("unrelated headline") {
		t.Error("Expected no match on unrelated text")
	}
}

func TestStaticProvider_ActiveEntities(t *testing.T) {
	provider := NewStaticProvider([]Entity{
		{ID: "a", Name: "A", Active: true},
		{ID: "b", Name: "B", Active: false},
		{ID: "c", Name: "C", Active: true},
	})

	active, err := provider.ActiveEntities(context.Background())
	if err != nil {
		t.Fatalf("ActiveEntities() error = %v", err)
	}

	if len(active) != 2 {
		t.Fatalf("Expected 2 active entities, got %d", len(active))
	}
	if active[0].ID != "a" || active[1].ID != "c" {
		t.Errorf("Unexpected active set: %v", active)
	}
}
