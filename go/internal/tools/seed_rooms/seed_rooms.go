package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/studysync/go/internal/dbconfig"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// RoomSeed is one entry of the seed file.
type RoomSeed struct {
	Name       string   `yaml:"name"`
	HostID     string   `yaml:"host_id"`
	Public     *bool    `yaml:"public"`
	Credential string   `yaml:"credential"`
	Allowed    []string `yaml:"allowed"`
}

type seedFile struct {
	Rooms []RoomSeed `yaml:"rooms"`
}

type roomRow struct {
	Name           string
	HostID         *string
	IsPublic       bool
	CredentialHash *string
	Allowed        []string
}

func main() {
	path := flag.String("file", "go/internal/assets/rooms.yaml", "room seed file")
	flag.Parse()

	// 1) Load the YAML seed
	data, err := os.ReadFile(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read seed file: %v\n", err)
		os.Exit(1)
	}
	seeds, err := parseSeeds(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse seed file: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(context.Background(), cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Upsert and count
	var (
		total    = len(seeds)
		inserted int
		updated  int
		errs     int
	)

	for _, s := range seeds {
		row, err := s.row(bcrypt.DefaultCost)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error preparing room %s: %v\n", s.Name, err)
			errs++
			continue
		}

		var wasInserted bool
		err = pool.QueryRow(context.Background(), `
            INSERT INTO study_rooms (
              name, host_id, is_public, credential_hash, allowed_identities
            ) VALUES (
              $1,$2,$3,$4,$5
            )
            ON CONFLICT (name) DO UPDATE SET
              is_public          = EXCLUDED.is_public,
              credential_hash    = EXCLUDED.credential_hash,
              allowed_identities = EXCLUDED.allowed_identities
            RETURNING (xmax = 0)
        `,
			row.Name, row.HostID, row.IsPublic, row.CredentialHash, row.Allowed,
		).Scan(&wasInserted)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error upserting room %s: %v\n", s.Name, err)
			errs++
			continue
		}
		if wasInserted {
			inserted++
		} else {
			updated++
		}
	}

	// 4) Print summary
	fmt.Printf(
		"Rooms seed complete: %d total, %d inserted, %d updated, %d errors\n",
		total, inserted, updated, errs,
	)
}

func parseSeeds(data []byte) ([]RoomSeed, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(f.Rooms))
	for i, s := range f.Rooms {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return nil, fmt.Errorf("room %d has no name", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate room %q", name)
		}
		seen[name] = true
		f.Rooms[i].Name = name
	}
	return f.Rooms, nil
}

// row converts the seed into column values. An existing host is kept on
// conflict; a blank host is stored as NULL.
func (s RoomSeed) row(cost int) (roomRow, error) {
	r := roomRow{
		Name:     s.Name,
		IsPublic: s.Public == nil || *s.Public,
		Allowed:  s.Allowed,
	}
	if r.Allowed == nil {
		r.Allowed = []string{}
	}
	if s.HostID != "" {
		host := s.HostID
		r.HostID = &host
	}
	if s.Credential != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(s.Credential), cost)
		if err != nil {
			return roomRow{}, fmt.Errorf("hash credential: %w", err)
		}
		h := string(hash)
		r.CredentialHash = &h
	}
	return r, nil
}
