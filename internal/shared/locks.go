package shared

import "fmt"

// OpnameLockKey builds redis keys guarding stock opname completion.
func OpnameLockKey(sessionID int64) string {
	return fmt.Sprintf("stockroom:opname:%d:lock", sessionID)
}
