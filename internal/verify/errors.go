package verify

import "github.com/rotisserie/eris"

// ErrInvalidTransition means a manual action targeted an invoice whose status
// is already terminal. The action is refused and no audit entry is written.
var ErrInvalidTransition = eris.New("verify: invalid status transition")
