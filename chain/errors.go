package chain

import "errors"

var errShortBlockID = errors.New("chain: block id too short to derive ref_block fields")
