package main

import (
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/crypto/bcrypt"
)

func TestParseSeeds(t *testing.T) {
	seeds, err := parseSeeds([]byte(`
rooms:
  - name: "  calc-2  "
  - name: lab
    public: false
    credential: secret
    allowed: [user-1]
`))
	if err != nil {
		t.Fatalf("parseSeeds: %v", err)
	}
	if len(seeds) != 2 || seeds[0].Name != "calc-2" {
		t.Fatalf("seeds = %+v", seeds)
	}

	open, err := seeds[0].row(bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	want := roomRow{Name: "calc-2", IsPublic: true, Allowed: []string{}}
	if diff := cmp.Diff(want, open); diff != "" {
		t.Errorf("row mismatch (-want +got):\n%s", diff)
	}

	private, err := seeds[1].row(bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	if private.IsPublic {
		t.Error("lab should be private")
	}
	if private.CredentialHash == nil {
		t.Fatal("credential was not hashed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*private.CredentialHash), []byte("secret")); err != nil {
		t.Errorf("hash does not match credential: %v", err)
	}
}

func TestParseSeedsRejects(t *testing.T) {
	tests := map[string]string{
		"missing name": "rooms:\n  - public: true\n",
		"duplicate":    "rooms:\n  - name: a\n  - name: a\n",
		"bad yaml":     "rooms: [",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := parseSeeds([]byte(body)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestBundledSeedFileParses(t *testing.T) {
	data, err := os.ReadFile("../../assets/rooms.yaml")
	if err != nil {
		t.Fatal(err)
	}
	seeds, err := parseSeeds(data)
	if err != nil {
		t.Fatalf("parseSeeds: %v", err)
	}
	if len(seeds) == 0 {
		t.Error("bundled seed file is empty")
	}
}
