package domain

import "fmt"

// Versioni del contratto di persistenza per ogni entita'.
// Ogni riga salvata porta la sua schema_version; una versione sconosciuta
// blocca la decodifica invece di essere assorbita in silenzio.
const (
	AccountSchemaVersion   = 1
	OwnedCardSchemaVersion = 1
	CardSchemaVersion      = 1
	StaffSchemaVersion     = 1
)

// CheckSchemaVersion valida la versione letta per l'entita'.
func CheckSchemaVersion(entity string, got int) error {
	var want int
	switch entity {
	case "account":
		want = AccountSchemaVersion
	case "owned_card":
		want = OwnedCardSchemaVersion
	case "card":
		want = CardSchemaVersion
	case "staff":
		want = StaffSchemaVersion
	default:
		return fmt.Errorf("%w: unknown entity %q", ErrSchemaVersion, entity)
	}
	if got != want {
		return fmt.Errorf("%w: %s version %d, expected %d", ErrSchemaVersion, entity, got, want)
	}
	return nil
}
