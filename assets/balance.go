package assets

import (
	"github.com/shopspring/decimal"
	"webhook-notifier/models"
)

// Balances maps fingerprint to its running balance.
type Balances map[string]*models.AssetBalance

// Flatten lists every asset held in utxos, owned by the utxo address.
func Flatten(utxos []models.Utxo) []models.Asset {
	var out []models.Asset
	for _, u := range utxos {
		for _, a := range u.Assets {
			a.Owner = u.Address
			out = append(out, a)
		}
	}
	return out
}

// Balance returns, per fingerprint, the outputs minus the inputs. Owners
// records the absolute quantity each address contributed on either side.
func Balance(inputs, outputs []models.Utxo) Balances {
	b := make(Balances)
	b.add(Flatten(outputs), 1)
	b.add(Flatten(inputs), -1)
	return b
}

func (b Balances) add(assets []models.Asset, sign int64) {
	s := decimal.NewFromInt(sign)
	for _, a := range assets {
		q := a.Quantity.Mul(s)
		entry, ok := b[a.Fingerprint]
		if !ok {
			entry = &models.AssetBalance{
				PolicyID:       a.PolicyID,
				AssetName:      a.AssetName,
				AssetNameLabel: a.AssetNameLabel,
				Fingerprint:    a.Fingerprint,
				Owners:         make(map[string]decimal.Decimal),
			}
			b[a.Fingerprint] = entry
		}
		entry.Quantity = entry.Quantity.Add(q)
		if a.Owner != "" {
			entry.Owners[a.Owner] = entry.Owners[a.Owner].Add(q.Abs())
		}
	}
}

// WithMint merges the mint/burn delta into balances. A minted fingerprint
// missing from balances was burned completely and is added with quantity 0.
func WithMint(mint map[string]models.Asset, balances Balances) Balances {
	for fp, a := range mint {
		entry, ok := balances[fp]
		if !ok {
			balances[fp] = &models.AssetBalance{
				PolicyID:       a.PolicyID,
				AssetName:      a.AssetName,
				AssetNameLabel: a.AssetNameLabel,
				Fingerprint:    fp,
				Quantity:       decimal.Zero,
				Metadata:       a.Metadata,
			}
			continue
		}
		if len(entry.Metadata) == 0 {
			entry.Metadata = a.Metadata
		}
	}
	return balances
}

// Aggregate sums quantities per policy id and asset name, keeping the order
// in which each asset was first seen.
func Aggregate(assets []models.Asset) []models.Asset {
	index := make(map[string]int)
	var out []models.Asset
	for _, a := range assets {
		k := a.PolicyID + "." + a.AssetName
		if i, ok := index[k]; ok {
			out[i].Quantity = out[i].Quantity.Add(a.Quantity)
			continue
		}
		index[k] = len(out)
		out = append(out, a)
	}
	return out
}
