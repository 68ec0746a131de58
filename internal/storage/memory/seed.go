package memory

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"invoicer/internal/auth"
	"invoicer/internal/core"
)

// Seed is the YAML document loaded by the memory backend and imported by
// invoicectl seed.
type Seed struct {
	Users []SeedUser `yaml:"users"`
}

type SeedUser struct {
	core.User   `yaml:",inline"`
	Tokens      []SeedToken           `yaml:"tokens"`
	Profile     *core.PayeeProfile    `yaml:"profile"`
	BankAccount *core.BankAccount     `yaml:"bank_account"`
	Matchings   []core.MatchingRecord `yaml:"matchings"`
}

// SeedToken holds a plain token. Only its hash reaches the store.
type SeedToken struct {
	Token string `yaml:"token"`
	Label string `yaml:"label"`
}

// Writer is implemented by stores a seed can be applied to.
type Writer interface {
	UpsertUser(ctx context.Context, u core.User) error
	CreateToken(ctx context.Context, userID, tokenHash, label string) error
	UpsertProfile(ctx context.Context, p core.PayeeProfile) error
	UpsertBankAccount(ctx context.Context, userID string, b core.BankAccount) error
	UpsertMatching(ctx context.Context, m core.MatchingRecord) error
}

func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(data)
}

func ParseSeed(data []byte) (Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Seed{}, fmt.Errorf("parse seed: %w", err)
	}
	for i, u := range s.Users {
		if u.ID == "" {
			return Seed{}, fmt.Errorf("seed user %d: missing id", i)
		}
	}
	return s, nil
}

// Apply writes every user of the seed to w. Nested records inherit the
// owning user's id.
func (s Seed) Apply(ctx context.Context, w Writer) error {
	for _, u := range s.Users {
		if err := w.UpsertUser(ctx, u.User); err != nil {
			return err
		}
		for _, t := range u.Tokens {
			if t.Token == "" {
				continue
			}
			if err := w.CreateToken(ctx, u.ID, auth.HashToken(t.Token), t.Label); err != nil {
				return err
			}
		}
		if u.Profile != nil {
			p := *u.Profile
			p.UserID = u.ID
			if err := w.UpsertProfile(ctx, p); err != nil {
				return err
			}
		}
		if u.BankAccount != nil {
			if err := w.UpsertBankAccount(ctx, u.ID, *u.BankAccount); err != nil {
				return err
			}
		}
		for _, m := range u.Matchings {
			m.UserID = u.ID
			if err := w.UpsertMatching(ctx, m); err != nil {
				return err
			}
		}
	}
	return nil
}
