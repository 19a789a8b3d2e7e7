package repositories

import (
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestLikeTogglesRunSerializable(t *testing.T) {
	if likeTxOptions.IsoLevel != pgx.Serializable {
		t.Fatalf("expected serializable like transactions, got %q", likeTxOptions.IsoLevel)
	}
}
