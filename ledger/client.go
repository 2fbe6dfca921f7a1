package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"webhook-notifier/models"
)

// Client queries a db-sync style ledger database.
type Client struct {
	db *pgxpool.Pool
}

func NewClient(ctx context.Context, dsn string, maxconns int, minconns int) (*Client, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if maxconns > 0 {
		config.MaxConns = int32(maxconns)
	}
	if minconns > 0 {
		config.MinConns = int32(minconns)
	}
	config.HealthCheckPeriod = 60 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Client{db: pool}, nil
}

func (c *Client) Close() {
	c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.Ping(ctx)
}

const blockQuery = `
SELECT encode(b.hash, 'hex'), b.epoch_no, b.slot_no, b.epoch_slot_no, b.block_no,
	COALESCE(pb.block_no, 0), nb.block_no,
	COALESCE(ph.view, encode(sl.hash, 'hex')),
	COALESCE((SELECT SUM(tx.out_sum) FROM tx WHERE tx.block_id = b.id), 0)::bigint,
	COALESCE((SELECT SUM(tx.fee) FROM tx WHERE tx.block_id = b.id), 0)::bigint,
	(SELECT MAX(block_no) FROM block) - b.block_no,
	b.size, b.time, b.tx_count, b.proto_major, b.proto_minor, COALESCE(b.vrf_key, '')
FROM block b
LEFT JOIN block pb ON pb.id = b.previous_id
LEFT JOIN block nb ON nb.previous_id = b.id
JOIN slot_leader sl ON sl.id = b.slot_leader_id
LEFT JOIN pool_hash ph ON ph.id = sl.pool_hash_id
WHERE b.block_no = $1`

func (c *Client) Block(ctx context.Context, blockNo int64) (models.Block, error) {
	var b models.Block
	err := c.db.QueryRow(ctx, blockQuery, blockNo).Scan(
		&b.Hash, &b.EpochNo, &b.SlotNo, &b.EpochSlotNo, &b.BlockNo,
		&b.PreviousBlock, &b.NextBlock, &b.SlotLeader, &b.OutSum, &b.Fees,
		&b.Confirmations, &b.Size, &b.Time, &b.TxCount, &b.ProtoMajor, &b.ProtoMinor, &b.VrfKey,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Block{}, ErrBlockNotFound
		}
		return models.Block{}, fmt.Errorf("query block: %w", err)
	}
	return b, nil
}

const poolQuery = `
SELECT ph.id, ph.view, pu.pledge::text, pu.margin, pu.fixed_cost::text, pu.active_epoch_no,
	COALESCE(pmr.url, ''), COALESCE(encode(pmr.hash, 'hex'), ''),
	COALESCE(ocpd.ticker_name, ''),
	COALESCE(ocpd.json->>'name', ''),
	COALESCE(ocpd.json->>'description', ''),
	COALESCE(ocpd.json->>'homepage', '')
FROM pool_hash ph
JOIN pool_update pu ON pu.hash_id = ph.id
LEFT JOIN pool_metadata_ref pmr ON pmr.id = pu.meta_id
LEFT JOIN off_chain_pool_data ocpd ON ocpd.pmr_id = pmr.id
WHERE ph.view = $1
ORDER BY pu.registered_tx_id DESC
LIMIT 1`

func (c *Client) Pool(ctx context.Context, slotLeader string) (*models.Pool, error) {
	var (
		p                 models.Pool
		pledge, fixedCost string
	)
	err := c.db.QueryRow(ctx, poolQuery, slotLeader).Scan(
		&p.ID, &p.PoolID, &pledge, &p.Margin, &fixedCost, &p.ActiveEpochNo,
		&p.URL, &p.Hash, &p.Ticker, &p.Name, &p.Description, &p.Homepage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query pool: %w", err)
	}
	if p.Pledge, err = decimal.NewFromString(pledge); err != nil {
		return nil, fmt.Errorf("parse pledge: %w", err)
	}
	if p.FixedCost, err = decimal.NewFromString(fixedCost); err != nil {
		return nil, fmt.Errorf("parse fixed cost: %w", err)
	}
	return &p, nil
}

const utxoColumns = `
SELECT encode(src.hash, 'hex'), o.index, o.address, o.value::bigint,
	encode(ma.policy, 'hex'), encode(ma.name, 'hex'), ma.fingerprint, mto.quantity::text`

const inputsQuery = utxoColumns + `
FROM tx
JOIN tx_in i ON i.tx_in_id = tx.id
JOIN tx_out o ON o.tx_id = i.tx_out_id AND o.index = i.tx_out_index
JOIN tx src ON src.id = o.tx_id
LEFT JOIN ma_tx_out mto ON mto.tx_out_id = o.id
LEFT JOIN multi_asset ma ON ma.id = mto.ident
WHERE tx.hash = decode($1, 'hex')
ORDER BY src.hash, o.index`

const outputsQuery = utxoColumns + `
FROM tx src
JOIN tx_out o ON o.tx_id = src.id
LEFT JOIN ma_tx_out mto ON mto.tx_out_id = o.id
LEFT JOIN multi_asset ma ON ma.id = mto.ident
WHERE src.hash = decode($1, 'hex')
ORDER BY o.index`

func (c *Client) TransactionUtxos(ctx context.Context, txHash string) (models.TransactionUtxos, error) {
	inputs, err := c.queryUtxos(ctx, inputsQuery, txHash)
	if err != nil {
		return models.TransactionUtxos{}, fmt.Errorf("query inputs: %w", err)
	}
	outputs, err := c.queryUtxos(ctx, outputsQuery, txHash)
	if err != nil {
		return models.TransactionUtxos{}, fmt.Errorf("query outputs: %w", err)
	}
	return models.TransactionUtxos{Inputs: inputs, Outputs: outputs}, nil
}

// queryUtxos folds one row per (utxo, asset) into utxos with asset lists.
func (c *Client) queryUtxos(ctx context.Context, query string, txHash string) ([]models.Utxo, error) {
	rows, err := c.db.Query(ctx, query, txHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var utxos []models.Utxo
	for rows.Next() {
		var (
			u                                   models.Utxo
			policy, name, fingerprint, quantity *string
		)
		if err := rows.Scan(&u.Hash, &u.Index, &u.Address, &u.Value, &policy, &name, &fingerprint, &quantity); err != nil {
			return nil, err
		}

		n := len(utxos)
		if n == 0 || utxos[n-1].Hash != u.Hash || utxos[n-1].Index != u.Index {
			utxos = append(utxos, u)
			n++
		}
		if fingerprint == nil {
			continue
		}

		q, err := decimal.NewFromString(deref(quantity))
		if err != nil {
			return nil, fmt.Errorf("parse quantity for %s: %w", *fingerprint, err)
		}
		utxos[n-1].Assets = append(utxos[n-1].Assets, models.Asset{
			PolicyID:    deref(policy),
			AssetName:   deref(name),
			Fingerprint: *fingerprint,
			Quantity:    q,
			Owner:       u.Address,
		})
	}
	return utxos, rows.Err()
}

const assetMetadataQuery = `
SELECT tm.key::text, tm.json
FROM multi_asset ma
JOIN ma_tx_mint mtm ON mtm.ident = ma.id
JOIN tx_metadata tm ON tm.tx_id = mtm.tx_id
WHERE ma.fingerprint = $1
ORDER BY mtm.tx_id DESC`

func (c *Client) AssetMetadata(ctx context.Context, fingerprint string) ([]models.Metadata, error) {
	rows, err := c.db.Query(ctx, assetMetadataQuery, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("query asset metadata: %w", err)
	}
	defer rows.Close()

	var out []models.Metadata
	for rows.Next() {
		var m models.Metadata
		if err := rows.Scan(&m.Label, &m.JSON); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
