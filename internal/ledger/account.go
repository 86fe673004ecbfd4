package ledger

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota // net tokens received from the pool

	// System sub-types
	SubTypeReserveCash // tokens held by a reserve
	SubTypeRewardPool  // emitted rewards not yet claimed

	// External sub-types
	SubTypeBackstop // net tokens sent to the backstop
	SubTypeEmitter  // net rewards delivered by the emitter
)

var subTypeNames = map[AccountSubType]string{
	SubTypeWallet:      "wallet",
	SubTypeReserveCash: "reserve_cash",
	SubTypeRewardPool:  "rewards",
	SubTypeBackstop:    "backstop",
	SubTypeEmitter:     "emitter",
}

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

// Assets are registered from pool config as reserves are created; ids are
// process-local and never persisted, so only AccountPath is stable.
var (
	assetMu   sync.RWMutex
	assetToID = map[string]AssetID{}
	idToAsset = map[AssetID]string{}
)

// RegisterAsset returns the asset's id, assigning the next one if needed.
func RegisterAsset(asset string) AssetID {
	assetMu.Lock()
	defer assetMu.Unlock()

	if id, ok := assetToID[asset]; ok {
		return id
	}
	id := AssetID(len(assetToID) + 1)
	assetToID[asset] = id
	idToAsset[id] = asset
	return id
}

func GetAssetID(asset string) (AssetID, bool) {
	assetMu.RLock()
	defer assetMu.RUnlock()
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	assetMu.RLock()
	defer assetMu.RUnlock()
	name, ok := idToAsset[id]
	return name, ok
}

// RegisteredAssets lists known assets in id order.
func RegisteredAssets() []string {
	assetMu.RLock()
	defer assetMu.RUnlock()
	ids := make([]int, 0, len(idToAsset))
	for id := range idToAsset {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = idToAsset[AssetID(id)]
	}
	return out
}

// AccountKey is the in-memory key for balance tracking (20 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // user id; zero for system and external accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(userID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for pool-owned accounts
func NewSystemAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
		AssetID: assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	if n, ok := subTypeNames[k.SubType]; ok {
		return n
	}
	return "unknown"
}

// Asset returns the key's asset name.
func (k AccountKey) Asset() string {
	name, _ := GetAssetName(k.AssetID)
	return name
}

// ParseAccountPath is the inverse of AccountPath. Unknown assets are registered.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")

	var (
		scope   AccountScope
		entity  [16]byte
		subName string
		asset   string
	)
	switch {
	case len(parts) == 4 && parts[0] == "user":
		uid, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("account %q: %w", path, err)
		}
		scope, entity, subName, asset = AccountScopeUser, uid, parts[2], parts[3]
	case len(parts) == 3 && parts[0] == "system":
		scope, subName, asset = AccountScopeSystem, parts[1], parts[2]
	case len(parts) == 3 && parts[0] == "external":
		scope, subName, asset = AccountScopeExternal, parts[1], parts[2]
	default:
		return AccountKey{}, fmt.Errorf("malformed account path %q", path)
	}

	for st, n := range subTypeNames {
		if n == subName {
			return AccountKey{
				Scope:    scope,
				EntityID: entity,
				SubType:  st,
				AssetID:  RegisterAsset(asset),
			}, nil
		}
	}
	return AccountKey{}, fmt.Errorf("account %q: unknown sub-type %q", path, subName)
}
