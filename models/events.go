package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types carried in DeliveryJob.Type and EventEnvelope.Type.
const (
	TypeEpoch       = "epoch"
	TypeBlock       = "block"
	TypeDelegation  = "delegation"
	TypeTransaction = "transaction"
	TypePayment     = "payment"
	TypeAsset       = "asset"
)

type Epoch struct {
	Network   string    `json:"network"`
	No        int64     `json:"no"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	TxCount   int64     `json:"tx_count"`
	BlkCount  int64     `json:"blk_count"`
	OutSum    int64     `json:"out_sum"`
	Fees      int64     `json:"fees"`
}

func (e Epoch) Resolve(path []string) (any, bool) {
	var v any
	switch path[0] {
	case "network":
		v = e.Network
	case "no":
		v = e.No
	case "start_time":
		v = e.StartTime
	case "end_time":
		v = e.EndTime
	case "tx_count":
		v = e.TxCount
	case "blk_count":
		v = e.BlkCount
	case "out_sum":
		v = e.OutSum
	case "fees":
		v = e.Fees
	default:
		return nil, false
	}
	return Resolve(v, path[1:])
}

type Pool struct {
	ID            int64           `json:"id"`
	PoolID        string          `json:"pool_id"`
	Pledge        decimal.Decimal `json:"pledge"`
	Margin        float64         `json:"margin"`
	FixedCost     decimal.Decimal `json:"fixed_cost"`
	ActiveEpochNo int64           `json:"active_epoch_no"`
	URL           string          `json:"url,omitempty"`
	Hash          string          `json:"hash,omitempty"`
	Ticker        string          `json:"ticker,omitempty"`
	Name          string          `json:"name,omitempty"`
	Description   string          `json:"description,omitempty"`
	Homepage      string          `json:"homepage,omitempty"`
}

func (p Pool) Resolve(path []string) (any, bool) {
	var v any
	switch path[0] {
	case "id":
		v = p.ID
	case "pool_id":
		v = p.PoolID
	case "pledge":
		v = p.Pledge
	case "margin":
		v = p.Margin
	case "fixed_cost":
		v = p.FixedCost
	case "active_epoch_no":
		v = p.ActiveEpochNo
	case "url":
		v = p.URL
	case "hash":
		v = p.Hash
	case "ticker":
		v = p.Ticker
	case "name":
		v = p.Name
	case "description":
		v = p.Description
	case "homepage":
		v = p.Homepage
	default:
		return nil, false
	}
	return Resolve(v, path[1:])
}

type Block struct {
	Network       string    `json:"network,omitempty"`
	Hash          string    `json:"hash"`
	EpochNo       int64     `json:"epoch_no"`
	SlotNo        int64     `json:"slot_no"`
	EpochSlotNo   int64     `json:"epoch_slot_no"`
	BlockNo       int64     `json:"block_no"`
	PreviousBlock int64     `json:"previous_block"`
	NextBlock     *int64    `json:"next_block,omitempty"`
	SlotLeader    string    `json:"slot_leader"`
	OutSum        int64     `json:"out_sum"`
	Fees          int64     `json:"fees"`
	Confirmations int64     `json:"confirmations"`
	Size          int64     `json:"size"`
	Time          time.Time `json:"time"`
	TxCount       int64     `json:"tx_count"`
	ProtoMajor    int32     `json:"proto_major"`
	ProtoMinor    int32     `json:"proto_minor"`
	VrfKey        string    `json:"vrf_key,omitempty"`
	Pool          *Pool     `json:"pool,omitempty"`
}

func (b Block) Resolve(path []string) (any, bool) {
	var v any
	switch path[0] {
	case "network":
		v = b.Network
	case "hash":
		v = b.Hash
	case "epoch_no":
		v = b.EpochNo
	case "slot_no":
		v = b.SlotNo
	case "epoch_slot_no":
		v = b.EpochSlotNo
	case "block_no":
		v = b.BlockNo
	case "previous_block":
		v = b.PreviousBlock
	case "next_block":
		return optional(b.NextBlock, path[1:])
	case "slot_leader":
		v = b.SlotLeader
	case "out_sum":
		v = b.OutSum
	case "fees":
		v = b.Fees
	case "confirmations":
		v = b.Confirmations
	case "size":
		v = b.Size
	case "time":
		v = b.Time
	case "tx_count":
		v = b.TxCount
	case "proto_major":
		v = b.ProtoMajor
	case "proto_minor":
		v = b.ProtoMinor
	case "vrf_key":
		v = b.VrfKey
	case "pool":
		return optional(b.Pool, path[1:])
	default:
		return nil, false
	}
	return Resolve(v, path[1:])
}

type Delegation struct {
	Network      string `json:"network"`
	EpochNo      int64  `json:"epoch_no"`
	SlotNo       int64  `json:"slot_no"`
	EpochSlotNo  int64  `json:"epoch_slot_no"`
	BlockNo      int64  `json:"block_no"`
	BlockHash    string `json:"block_hash"`
	TxHash       string `json:"tx_hash"`
	StakeAddress string `json:"stake_address"`
	Pool         *Pool  `json:"pool,omitempty"`
}

func (d Delegation) Resolve(path []string) (any, bool) {
	var v any
	switch path[0] {
	case "network":
		v = d.Network
	case "epoch_no":
		v = d.EpochNo
	case "slot_no":
		v = d.SlotNo
	case "epoch_slot_no":
		v = d.EpochSlotNo
	case "block_no":
		v = d.BlockNo
	case "block_hash":
		v = d.BlockHash
	case "tx_hash":
		v = d.TxHash
	case "stake_address":
		v = d.StakeAddress
	case "pool":
		return optional(d.Pool, path[1:])
	default:
		return nil, false
	}
	return Resolve(v, path[1:])
}

// Metadata is a transaction metadata entry under a numeric label.
type Metadata struct {
	Label string `json:"label"`
	JSON  any    `json:"json"`
}

func (m Metadata) Resolve(path []string) (any, bool) {
	switch path[0] {
	case "label":
		return Resolve(m.Label, path[1:])
	case "json":
		return Resolve(m.JSON, path[1:])
	}
	return nil, false
}

// Asset is a native asset amount, either held in a UTXO or minted/burned.
type Asset struct {
	PolicyID       string          `json:"policy_id"`
	AssetName      string          `json:"asset_name"`
	AssetNameLabel *int            `json:"asset_name_label,omitempty"`
	Fingerprint    string          `json:"fingerprint"`
	Quantity       decimal.Decimal `json:"quantity"`
	Owner          string          `json:"owner,omitempty"`
	Metadata       []Metadata      `json:"metadata,omitempty"`
}

func (a Asset) Resolve(path []string) (any, bool) {
	var v any
	switch path[0] {
	case "policy_id":
		v = a.PolicyID
	case "asset_name":
		v = a.AssetName
	case "asset_name_label":
		return optional(a.AssetNameLabel, path[1:])
	case "fingerprint":
		v = a.Fingerprint
	case "quantity":
		v = a.Quantity
	case "owner":
		if a.Owner == "" {
			return nil, false
		}
		v = a.Owner
	case "metadata":
		return index(a.Metadata, path[1:])
	default:
		return nil, false
	}
	return Resolve(v, path[1:])
}

// Datum is an inline plutus datum in its detailed JSON schema.
type Datum struct {
	Constructor int   `json:"constructor"`
	Fields      []any `json:"fields"`
}

type Utxo struct {
	Hash    string  `json:"hash"`
	Index   int32   `json:"index"`
	Address string  `json:"address"`
	Value   int64   `json:"value"`
	Assets  []Asset `json:"assets,omitempty"`
	Datum   *Datum  `json:"datum,omitempty"`
}

func (u Utxo) Resolve(path []string) (any, bool) {
	var v any
	switch path[0] {
	case "hash":
		v = u.Hash
	case "index":
		v = u.Index
	case "address":
		v = u.Address
	case "value":
		v = u.Value
	case "assets":
		return index(u.Assets, path[1:])
	default:
		return nil, false
	}
	return Resolve(v, path[1:])
}

type Transaction struct {
	Network          string           `json:"network,omitempty"`
	Hash             string           `json:"hash"`
	BlockID          int64            `json:"block_id"`
	BlockIndex       int32            `json:"block_index"`
	OutSum           int64            `json:"out_sum"`
	Fee              int64            `json:"fee"`
	Deposit          int64            `json:"deposit"`
	Size             int64            `json:"size"`
	InvalidBefore    *int64           `json:"invalid_before,omitempty"`
	InvalidHereafter *int64           `json:"invalid_hereafter,omitempty"`
	ValidContract    bool             `json:"valid_contract"`
	ScriptSize       int64            `json:"script_size"`
	Mint             map[string]Asset `json:"mint,omitempty"`
	Metadata         []Metadata       `json:"metadata,omitempty"`
	Block            *Block           `json:"block,omitempty"`
}

func (t Transaction) Resolve(path []string) (any, bool) {
	var v any
	switch path[0] {
	case "network":
		v = t.Network
	case "hash":
		v = t.Hash
	case "block_id":
		v = t.BlockID
	case "block_index":
		v = t.BlockIndex
	case "out_sum":
		v = t.OutSum
	case "fee":
		v = t.Fee
	case "deposit":
		v = t.Deposit
	case "size":
		v = t.Size
	case "invalid_before":
		return optional(t.InvalidBefore, path[1:])
	case "invalid_hereafter":
		return optional(t.InvalidHereafter, path[1:])
	case "valid_contract":
		v = t.ValidContract
	case "script_size":
		v = t.ScriptSize
	case "mint":
		if len(path) == 1 {
			return t.Mint, len(t.Mint) > 0
		}
		a, ok := t.Mint[path[1]]
		if !ok {
			return nil, false
		}
		return Resolve(a, path[2:])
	case "metadata":
		return index(t.Metadata, path[1:])
	case "block":
		return optional(t.Block, path[1:])
	default:
		return nil, false
	}
	return Resolve(v, path[1:])
}

// Payment is the new_payment event: a transaction with its spent and
// produced outputs.
type Payment struct {
	Network     string      `json:"network"`
	Transaction Transaction `json:"transaction"`
	Inputs      []Utxo      `json:"inputs"`
	Outputs     []Utxo      `json:"outputs"`
}

// TransactionUtxos is the ledger view of a transaction's inputs and outputs.
type TransactionUtxos struct {
	Inputs  []Utxo `json:"inputs"`
	Outputs []Utxo `json:"outputs"`
}
