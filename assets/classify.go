package assets

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"unicode/utf8"

	"webhook-notifier/models"
)

// CIP-68 asset name labels.
const (
	LabelReference = 100
	LabelNFT       = 222
	LabelFT        = 333
)

// cip68Prefixes maps the hex asset name prefix to its label. Read-only.
var cip68Prefixes = map[string]int{
	"000643b0": LabelReference,
	"000de140": LabelNFT,
	"0014de40": LabelFT,
}

const cip68PrefixLen = 8

// CIP68Label returns the asset's CIP-68 label, from the explicit label when
// present, else from the asset name prefix.
func CIP68Label(policyID, assetName string, explicit *int) (int, bool) {
	if explicit != nil {
		switch *explicit {
		case LabelReference, LabelNFT, LabelFT:
			return *explicit, true
		}
		return 0, false
	}
	if len(assetName) < cip68PrefixLen {
		return 0, false
	}
	label, ok := cip68Prefixes[assetName[:cip68PrefixLen]]
	return label, ok
}

// MetadataSource provides historical minting metadata for an asset.
type MetadataSource interface {
	AssetMetadata(ctx context.Context, fingerprint string) ([]models.Metadata, error)
}

type Classifier struct {
	Source MetadataSource
}

// Classify balances the payment outputs against the mint delta and returns
// every asset with a non-zero delta, ordered by fingerprint. The delta is
// recorded in NftMinted or FtMinted.
func (c Classifier) Classify(ctx context.Context, tx models.Transaction, outputs []models.Utxo) ([]models.AssetBalance, error) {
	if len(tx.Mint) == 0 {
		return nil, nil
	}
	balances := WithMint(tx.Mint, Balance(nil, outputs))

	fingerprints := make([]string, 0, len(tx.Mint))
	for fp := range tx.Mint {
		fingerprints = append(fingerprints, fp)
	}
	sort.Strings(fingerprints)

	out := make([]models.AssetBalance, 0, len(fingerprints))
	for _, fp := range fingerprints {
		delta := tx.Mint[fp].Quantity
		if delta.IsZero() {
			continue
		}
		entry := balances[fp]

		nft, err := c.isNFT(ctx, tx.Metadata, entry, outputs)
		if err != nil {
			return nil, fmt.Errorf("classify %s: %w", fp, err)
		}
		if nft {
			entry.NftMinted = entry.NftMinted.Add(delta)
		} else {
			entry.FtMinted = entry.FtMinted.Add(delta)
		}
		out = append(out, *entry)
	}
	return out, nil
}

// isNFT applies the first matching rule: label 721 metadata, label 20
// metadata, CIP-68 label, then the asset's minting history.
func (c Classifier) isNFT(ctx context.Context, metadata []models.Metadata, entry *models.AssetBalance, outputs []models.Utxo) (bool, error) {
	if inLabel(metadata, "721", entry.PolicyID, entry.AssetName) {
		return true, nil
	}
	if inLabel(metadata, "20", entry.PolicyID, entry.AssetName) {
		return false, nil
	}
	if label, ok := CIP68Label(entry.PolicyID, entry.AssetName, entry.AssetNameLabel); ok {
		if md, ok := referenceDatum(outputs, entry.PolicyID, entry.AssetName, label); ok {
			entry.Metadata = append(entry.Metadata, md)
		}
		return label == LabelNFT, nil
	}
	if c.Source == nil {
		return false, nil
	}

	history, err := c.Source.AssetMetadata(ctx, entry.Fingerprint)
	if err != nil {
		return false, err
	}
	for _, m := range history {
		if m.Label == "721" {
			return true, nil
		}
	}
	return false, nil
}

// inLabel reports whether {policy: {name: ...}} appears under label. The
// name may be keyed as hex or as its utf-8 decoding.
func inLabel(metadata []models.Metadata, label, policyID, assetName string) bool {
	for _, m := range metadata {
		if m.Label != label {
			continue
		}
		root, ok := m.JSON.(map[string]any)
		if !ok {
			continue
		}
		policy, ok := root[policyID].(map[string]any)
		if !ok {
			continue
		}
		if _, ok := policy[assetName]; ok {
			return true
		}
		if name, ok := decodeName(assetName); ok {
			if _, ok := policy[name]; ok {
				return true
			}
		}
	}
	return false
}

func decodeName(assetName string) (string, bool) {
	raw, err := hex.DecodeString(assetName)
	if err != nil || !utf8.Valid(raw) {
		return "", false
	}
	return string(raw), true
}

// referenceDatum finds the reference token (label 100) paired with a CIP-68
// asset in outputs and converts its inline datum to metadata.
func referenceDatum(outputs []models.Utxo, policyID, assetName string, label int) (models.Metadata, bool) {
	if label == LabelReference || len(assetName) < cip68PrefixLen {
		return models.Metadata{}, false
	}
	refName := "000643b0" + assetName[cip68PrefixLen:]
	for _, u := range outputs {
		if u.Datum == nil {
			continue
		}
		for _, a := range u.Assets {
			if a.PolicyID == policyID && a.AssetName == refName {
				return DatumMetadata(u.Datum, policyID, assetName, label), true
			}
		}
	}
	return models.Metadata{}, false
}

// DatumMetadata converts a CIP-68 datum (metadata, version, ...) into a
// metadata entry shaped like label 721.
func DatumMetadata(datum *models.Datum, policyID, assetName string, label int) models.Metadata {
	md := models.Metadata{Label: strconv.Itoa(label)}
	if datum == nil || len(datum.Fields) < 2 {
		if datum != nil {
			md.JSON = datum.Fields
		}
		return md
	}
	md.JSON = map[string]any{
		policyID: map[string]any{assetName: datum.Fields[0]},
		"version": datum.Fields[1],
	}
	return md
}
