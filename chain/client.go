package chain

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"gopkg.in/h2non/gentleman.v2"

	"github.com/dmc-network/dsg-miner/types"
)

// maxRetries bounds the ConnectFailed retry policy of spec.md §5/§7:
// "three retry attempts per request on connect-failed".
const maxRetries = 3

// RPCClient is the concrete chain.Client implementation: JSON-over-HTTP
// against /v1/chain/*, signed with a K1 identity. Grounded on the
// teacher's declared gopkg.in/h2non/gentleman.v2 HTTP stack (go.mod),
// pointed at the chain's REST surface instead of an Arweave gateway.
type RPCClient struct {
	cli *gentleman.Client

	signerKey    *btcec.PrivateKey
	minerAccount string
	chainID      []byte
}

// NewRPCClient creates a client against baseURL, signing transactions
// with signerKey as minerAccount.
func NewRPCClient(baseURL string, signerKey *btcec.PrivateKey, minerAccount string, chainID []byte) *RPCClient {
	cli := gentleman.New()
	cli.URL(baseURL)
	return &RPCClient{cli: cli, signerKey: signerKey, minerAccount: minerAccount, chainID: chainID}
}

// postJSON POSTs path with body and returns the raw response text,
// making up to maxRetries attempts in total on a connect failure per
// spec.md §7's ConnectFailed policy.
func (c *RPCClient) postJSON(path string, body interface{}) (string, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		req := c.cli.Request()
		req.Method("POST")
		req.Path(path)
		req.JSON(body)
		res, err := req.Send()
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
			continue
		}
		if !res.Ok {
			return "", types.NewError(types.InvalidData, fmt.Errorf("chain: %s returned status %d: %s", path, res.StatusCode, res.String()))
		}
		return res.String(), nil
	}
	return "", types.NewError(types.ConnectFailed, fmt.Errorf("chain: %s failed after %d attempts: %w", path, maxRetries, lastErr))
}

// GetOrder implements get_order via get_table_rows against the orders
// table, scoped by orderID.
func (c *RPCClient) GetOrder(orderID string) (*types.Order, error) {
	body := map[string]interface{}{
		"code":        "dmc.order",
		"scope":       "dmc.order",
		"table":       "orders",
		"lower_bound": orderID,
		"upper_bound": orderID,
		"json":        true,
		"limit":       1,
	}
	text, err := c.postJSON("/v1/chain/get_table_rows", body)
	if err != nil {
		return nil, err
	}
	rows := gjson.Get(text, "rows")
	if !rows.IsArray() || len(rows.Array()) == 0 {
		return nil, types.NewError(types.NotFound, fmt.Errorf("chain: order %s not found", orderID))
	}
	row := rows.Array()[0]

	var pledges []types.Pledge
	for _, p := range row.Get("pledges").Array() {
		amt, err := decimal.NewFromString(p.Get("amount").String())
		if err != nil {
			return nil, types.NewError(types.InvalidData, err)
		}
		pledges = append(pledges, types.Pledge{Account: p.Get("account").String(), Amount: amt})
	}

	return &types.Order{
		OrderID:   orderID,
		User:      row.Get("user").String(),
		Miner:     row.Get("miner").String(),
		State:     types.OrderState(row.Get("state").Int()),
		Pledges:   pledges,
		CreatedAt: time.Unix(row.Get("created_at").Int(), 0).UTC(),
	}, nil
}

// GetCyfsInfo implements get_cyfs_info: the customer device's advertised
// reachability, used to verify an incoming contract really comes from
// the on-chain user for its order (spec.md §4.6 step 1).
func (c *RPCClient) GetCyfsInfo(account string) (*types.CyfsInfo, error) {
	body := map[string]interface{}{
		"code":        "dmc.cyfs",
		"scope":       "dmc.cyfs",
		"table":       "info",
		"lower_bound": account,
		"upper_bound": account,
		"json":        true,
		"limit":       1,
	}
	text, err := c.postJSON("/v1/chain/get_table_rows", body)
	if err != nil {
		return nil, err
	}
	rows := gjson.Get(text, "rows")
	if !rows.IsArray() || len(rows.Array()) == 0 {
		return nil, types.NewError(types.NotFound, fmt.Errorf("chain: cyfs info for %s not found", account))
	}
	row := rows.Array()[0]
	return &types.CyfsInfo{
		Addr: row.Get("addr").String(),
		HTTP: row.Get("http").String(),
		V:    uint32(row.Get("v").Uint()),
	}, nil
}

// GetChallengeInfo implements get_challenge_info for one order.
func (c *RPCClient) GetChallengeInfo(orderID string) (*types.ChallengeInfo, error) {
	body := map[string]interface{}{
		"code":        "dmc.order",
		"scope":       orderID,
		"table":       "challenge",
		"lower_bound": "",
		"upper_bound": "",
		"json":        true,
		"limit":       1,
	}
	text, err := c.postJSON("/v1/chain/get_table_rows", body)
	if err != nil {
		return nil, err
	}
	rows := gjson.Get(text, "rows")
	if !rows.IsArray() || len(rows.Array()) == 0 {
		return nil, types.NewError(types.NotFound, fmt.Errorf("chain: challenge info for %s not found", orderID))
	}
	row := rows.Array()[0]
	nonce, err := hexutil.Decode(ensure0x(row.Get("nonce").String()))
	if err != nil {
		return nil, types.NewError(types.InvalidData, err)
	}
	preRoot, err := hex.DecodeString(row.Get("pre_merkle_root").String())
	if err != nil {
		return nil, types.NewError(types.InvalidData, err)
	}
	return &types.ChallengeInfo{
		DataID:              row.Get("data_id").Uint(),
		Nonce:               nonce,
		State:               types.ChainChallengeState(row.Get("state").Int()),
		PreMerkleRoot:       preRoot,
		PreMerkleBlockCount: row.Get("pre_merkle_block_count").Uint(),
	}, nil
}

// GetChainInfo implements get_info.
func (c *RPCClient) GetChainInfo() (*ChainInfo, error) {
	text, err := c.postJSON("/v1/chain/get_info", struct{}{})
	if err != nil {
		return nil, err
	}
	headID, err := hex.DecodeString(gjson.Get(text, "head_block_id").String())
	if err != nil {
		return nil, types.NewError(types.InvalidData, err)
	}
	chainID, err := hex.DecodeString(gjson.Get(text, "chain_id").String())
	if err != nil {
		return nil, types.NewError(types.InvalidData, err)
	}
	return &ChainInfo{
		HeadBlockNum: uint32(gjson.Get(text, "head_block_num").Uint()),
		HeadBlockID:  headID,
		ChainID:      chainID,
	}, nil
}

// GetBlockInfo implements get_block_info for a given block height.
func (c *RPCClient) GetBlockInfo(refBlockNum uint32) (*BlockInfo, error) {
	body := map[string]interface{}{"block_num": refBlockNum}
	text, err := c.postJSON("/v1/chain/get_block_info", body)
	if err != nil {
		return nil, err
	}
	blockID, err := hex.DecodeString(gjson.Get(text, "id").String())
	if err != nil {
		return nil, types.NewError(types.InvalidData, err)
	}
	return &BlockInfo{BlockNum: refBlockNum, BlockID: blockID}, nil
}

// AddMerkle implements add_merkle: commits the miner's computed root and
// piece count for orderID.
func (c *RPCClient) AddMerkle(orderID string, root [32]byte, pieceCount uint64) error {
	return c.pushAction("dmc.order", "addmerkle", addMerkleData{
		OrderID:    orderID,
		Root:       hex.EncodeToString(root[:]),
		PieceCount: pieceCount,
	})
}

// AnswerChallenge implements answer_challenge.
func (c *RPCClient) AnswerChallenge(orderID string, replyHash []byte) error {
	return c.pushAction("dmc.order", "anschallenge", answerChallengeData{
		OrderID:   orderID,
		ReplyHash: hex.EncodeToString(replyHash),
	})
}

// Arbitration implements arbitration: submits a full piece + auth path
// once the chain moves to arbitration state.
func (c *RPCClient) Arbitration(orderID string, pieceBytes []byte, authPath [][32]byte) error {
	return c.pushAction("dmc.order", "arbitration", arbitrationData{
		OrderID:    orderID,
		PieceBytes: hex.EncodeToString(pieceBytes),
		AuthPath:   encodeAuthPath(authPath),
	})
}

// ReportCyfsInfo implements report_cyfs_info: publishes miner
// reachability.
func (c *RPCClient) ReportCyfsInfo(info types.CyfsInfo) error {
	return c.pushAction("dmc.cyfs", "reportinfo", cyfsInfoData{Addr: info.Addr, HTTP: info.HTTP, V: info.V})
}

// pushAction builds, signs, and submits a single-action transaction via
// push_transaction, per spec.md §6's transaction framing.
func (c *RPCClient) pushAction(account, name string, data interface{}) error {
	abiBytes, err := marshalABI(data)
	if err != nil {
		return err
	}

	chainInfo, err := c.GetChainInfo()
	if err != nil {
		return err
	}
	refBlockNum, refBlockPrefix, err := RefBlockFields(chainInfo.HeadBlockID)
	if err != nil {
		return err
	}

	trx := Transaction{
		Expiration:       time.Now().UTC().Add(2 * time.Minute),
		RefBlockNum:      refBlockNum,
		RefBlockPrefix:   refBlockPrefix,
		MaxNetUsageWords: 0,
		MaxCPUUsageMS:    0,
		DelaySec:         0,
		Actions: []Action{{
			Account: account,
			Name:    name,
			Auths:   []PermissionLevel{{Actor: c.minerAccount, Permission: "active"}},
			Data:    abiBytes,
		}},
	}
	trxBytes, err := trx.Encode()
	if err != nil {
		return err
	}
	digest := SigDigest(c.chainID, trxBytes, make([]byte, 32))
	sig, err := Sign(c.signerKey, digest)
	if err != nil {
		return types.NewError(types.Cryptographic, err)
	}

	body := map[string]interface{}{
		"signatures":             []string{sig},
		"compression":            false,
		"packed_context_free_data": "",
		"packed_trx":             hex.EncodeToString(trxBytes),
	}
	_, err = c.postJSON("/v1/chain/push_transaction", body)
	return err
}

func ensure0x(s string) string {
	if len(s) >= 2 && s[:2] == "0x" {
		return s
	}
	return "0x" + s
}
