package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/willexec/willexec/internal/domain/will"
)

// WillSeed is the YAML form of a will. Weights and grace windows are
// strings so they keep their exact decimal value.
type WillSeed struct {
	StatementText       string            `yaml:"statementText"`
	ExecutorIdentity    string            `yaml:"executorIdentity"`
	PollIntervalSeconds int64             `yaml:"pollIntervalSeconds"`
	FixedPayoutAmount   *int64            `yaml:"fixedPayoutAmount,omitempty"`
	Beneficiaries       []BeneficiarySeed `yaml:"beneficiaries"`
	MonitoredAccounts   []AccountSeed     `yaml:"monitoredAccounts"`
}

type BeneficiarySeed struct {
	AccountID   string `yaml:"accountId"`
	SplitWeight string `yaml:"splitWeight"`
}

type AccountSeed struct {
	Platform        string `yaml:"platform"`
	Identifier      string `yaml:"identifier"`
	GraceWindowDays string `yaml:"graceWindowDays"`
}

// LoadWillFile reads a will seed from path.
func LoadWillFile(path string) (*will.Will, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeWill(f)
}

// DecodeWill parses and validates a YAML will.
func DecodeWill(r io.Reader) (*will.Will, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var seed WillSeed
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("decode will seed: %w", err)
	}
	return seed.Will()
}

// Will converts the seed to a validated domain will.
func (s WillSeed) Will() (*will.Will, error) {
	w := &will.Will{
		StatementText:       s.StatementText,
		ExecutorIdentity:    s.ExecutorIdentity,
		PollIntervalSeconds: s.PollIntervalSeconds,
		FixedPayoutAmount:   s.FixedPayoutAmount,
	}
	for _, b := range s.Beneficiaries {
		weight, err := decimal.NewFromString(b.SplitWeight)
		if err != nil {
			return nil, fmt.Errorf("%w: beneficiary %s: splitWeight: %v", will.ErrInvalidWill, b.AccountID, err)
		}
		w.Beneficiaries = append(w.Beneficiaries, will.BeneficiaryShare{AccountID: b.AccountID, SplitWeight: weight})
	}
	for _, a := range s.MonitoredAccounts {
		grace, err := decimal.NewFromString(a.GraceWindowDays)
		if err != nil {
			return nil, fmt.Errorf("%w: account %s:%s: graceWindowDays: %v", will.ErrInvalidWill, a.Platform, a.Identifier, err)
		}
		w.MonitoredAccounts = append(w.MonitoredAccounts, will.MonitoredAccount{
			Platform:        will.Platform(a.Platform),
			Identifier:      a.Identifier,
			GraceWindowDays: grace,
		})
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// EncodeWill renders a will in seed form.
func EncodeWill(w *will.Will) ([]byte, error) {
	seed := WillSeed{
		StatementText:       w.StatementText,
		ExecutorIdentity:    w.ExecutorIdentity,
		PollIntervalSeconds: w.PollIntervalSeconds,
		FixedPayoutAmount:   w.FixedPayoutAmount,
	}
	for _, b := range w.Beneficiaries {
		seed.Beneficiaries = append(seed.Beneficiaries, BeneficiarySeed{AccountID: b.AccountID, SplitWeight: b.SplitWeight.String()})
	}
	for _, a := range w.MonitoredAccounts {
		seed.MonitoredAccounts = append(seed.MonitoredAccounts, AccountSeed{
			Platform:        string(a.Platform),
			Identifier:      a.Identifier,
			GraceWindowDays: a.GraceWindowDays.String(),
		})
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(seed); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
