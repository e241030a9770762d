package idgen

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/sonyflake"
)

// Generator kinds accepted by New
const (
	KindUUID      = "uuid"
	KindSonyflake = "sonyflake"
)

// IDGenerator is the interface for generating unique IDs
type IDGenerator interface {
	// NextID generates a new unique ID
	NextID() (string, error)
}

// SonyflakeGenerator implements IDGenerator using sonyflake
type SonyflakeGenerator struct {
	sf *sonyflake.Sonyflake
}

// NewSonyflakeGenerator creates a new SonyflakeGenerator
func NewSonyflakeGenerator(machineID uint16) (*SonyflakeGenerator, error) {
	st := sonyflake.Settings{
		StartTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		MachineID: func() (uint16, error) {
			return machineID, nil
		},
	}

	sf, err := sonyflake.New(st)
	if err != nil {
		return nil, fmt.Errorf("failed to create sonyflake: %w", err)
	}

	return &SonyflakeGenerator{sf: sf}, nil
}

// NextID generates a new unique ID
func (g *SonyflakeGenerator) NextID() (string, error) {
	id, err := g.sf.NextID()
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return fmt.Sprintf("%d", id), nil
}

// UUIDGenerator implements IDGenerator using random UUIDs
type UUIDGenerator struct{}

// NewUUIDGenerator creates a new UUIDGenerator
func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{}
}

// NextID generates a new UUID v4
func (g *UUIDGenerator) NextID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate uuid: %w", err)
	}
	return id.String(), nil
}

// PrefixedGenerator prepends a fixed prefix to every id of the wrapped generator
type PrefixedGenerator struct {
	prefix string
	gen    IDGenerator
}

// WithPrefix wraps gen so that every id starts with prefix
func WithPrefix(prefix string, gen IDGenerator) *PrefixedGenerator {
	return &PrefixedGenerator{prefix: prefix, gen: gen}
}

// NextID generates a prefixed id
func (g *PrefixedGenerator) NextID() (string, error) {
	id, err := g.gen.NextID()
	if err != nil {
		return "", err
	}
	return g.prefix + id, nil
}

// New builds a generator by kind. An empty kind selects UUID.
func New(kind string, machineID uint16) (IDGenerator, error) {
	switch kind {
	case KindSonyflake:
		gen, err := NewSonyflakeGenerator(machineID)
		if err != nil {
			return nil, err
		}
		return gen, nil
	case KindUUID, "":
		return NewUUIDGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown id generator kind: %s", kind)
	}
}
