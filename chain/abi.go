package chain

import (
	"encoding/json"

	"github.com/dmc-network/dsg-miner/types"
)

// marshalABI encodes an action's data payload. The chain's ABI binary
// encoding for each action type is out of this system's scope (spec.md
// §1 treats the chain RPC client as an external collaborator); this
// system submits action data as its JSON form, which push_transaction's
// abi_json_to_bin companion step on the node side is expected to expand
// — see DESIGN.md for why no third-party ABI encoder is wired here.
func marshalABI(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, types.NewError(types.Fatal, err)
	}
	return b, nil
}
