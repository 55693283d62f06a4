package matrix

import "testing"

func TestDefaultExpansion(t *testing.T) {
	m := Default()
	cells := m.Expand()

	// 3×3 grid minus 4 exclusions.
	if len(cells) != 5 {
		t.Fatalf("expected 5 cells, got %d", len(cells))
	}

	got := make(map[string]bool, len(cells))
	for _, c := range cells {
		got[c.Key()] = true
	}

	want := []string{
		"py3.9-postgres",
		"py3.10-postgres",
		"py3.10-mysql",
		"py3.10-sqlite",
		"py3.11-postgres",
	}
	for _, key := range want {
		if !got[key] {
			t.Errorf("expected cell %s to be expanded", key)
		}
	}
}

func TestExcludedPairsNeverExpand(t *testing.T) {
	m := Default()

	tests := []struct {
		python   string
		database string
	}{
		{"3.9", "mysql"},
		{"3.11", "mysql"},
		{"3.9", "sqlite"},
		{"3.11", "sqlite"},
	}

	for _, tt := range tests {
		if !m.Excluded(tt.python, tt.database) {
			t.Errorf("expected (%s, %s) to be excluded", tt.python, tt.database)
		}
	}

	for _, c := range m.Expand() {
		if m.Excluded(c.Python, c.Database) {
			t.Errorf("excluded cell %s was expanded", c.Key())
		}
	}
}

func TestNonExcludedPairsExpandExactlyOnce(t *testing.T) {
	m := Default()
	seen := make(map[string]int)
	for _, c := range m.Expand() {
		seen[c.Key()]++
	}
	for key, n := range seen {
		if n != 1 {
			t.Errorf("cell %s expanded %d times, want 1", key, n)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		m       Matrix
		wantErr bool
	}{
		{"default is valid", Default(), false},
		{"no pythons", Matrix{Databases: []string{"sqlite"}}, true},
		{"no databases", Matrix{Pythons: []string{"3.10"}}, true},
		{
			"exclusion off the python axis",
			Matrix{
				Pythons:   []string{"3.10"},
				Databases: []string{"sqlite"},
				Exclude:   []Exclusion{{Python: "2.7", Database: "sqlite"}},
			},
			true,
		},
		{
			"exclusion off the database axis",
			Matrix{
				Pythons:   []string{"3.10"},
				Databases: []string{"sqlite"},
				Exclude:   []Exclusion{{Python: "3.10", Database: "oracle"}},
			},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
