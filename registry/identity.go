package registry

import (
	"github.com/glimte/interpose/contracts"
	"github.com/glimte/interpose/interceptors"
)

// Scope tells type-level owner keys from instance-level ones
type Scope uint8

const (
	// ScopeType keys registrations shared by every instance of a type
	ScopeType Scope = iota + 1
	// ScopeInstance keys registrations of one instance
	ScopeInstance
)

// String returns the scope name
func (s Scope) String() string {
	switch s {
	case ScopeType:
		return "type"
	case ScopeInstance:
		return "instance"
	default:
		return "unknown"
	}
}

// OwnerKey is the structured key of an owner. Two keys match only when every
// field is equal, so a type never matches one of its instances and type names
// never match by prefix.
type OwnerKey struct {
	Scope      Scope
	TypeName   string
	InstanceID string
}

// String returns Type or Type#id
func (k OwnerKey) String() string {
	if k.Scope == ScopeInstance {
		return k.TypeName + "#" + k.InstanceID
	}
	return k.TypeName
}

// typeKey returns the type-level key of the same type
func (k OwnerKey) typeKey() OwnerKey {
	return OwnerKey{Scope: ScopeType, TypeName: k.TypeName}
}

// Identity is the key interceptors are registered under
type Identity struct {
	Owner     OwnerKey
	Operation string
}

// String returns Owner.operation
func (id Identity) String() string {
	return id.Owner.String() + "." + id.Operation
}

// operation returns the context value describing the identity
func (id Identity) operation() interceptors.Operation {
	return interceptors.Operation{
		TypeName:   id.Owner.TypeName,
		InstanceID: id.Owner.InstanceID,
		Name:       id.Operation,
	}
}

// ownerKeyOf derives the key of an owner, rejecting malformed owners
func ownerKeyOf(owner contracts.Owner) (OwnerKey, error) {
	if owner == nil {
		return OwnerKey{}, contracts.ErrNilOwner
	}

	typeName := owner.OwnerType()
	if typeName == "" {
		return OwnerKey{}, contracts.ErrEmptyTypeName
	}

	inst, ok := owner.(contracts.Instance)
	if !ok {
		return OwnerKey{Scope: ScopeType, TypeName: typeName}, nil
	}

	id := inst.InstanceID()
	if id == "" {
		return OwnerKey{}, contracts.ErrEmptyInstanceID
	}
	return OwnerKey{Scope: ScopeInstance, TypeName: typeName, InstanceID: id}, nil
}

// identities derives the type identity of an owner's operation and, for
// instances, the instance identity. The returned bool reports an instance.
func identities(owner contracts.Owner, operation string) (Identity, Identity, bool, error) {
	key, err := ownerKeyOf(owner)
	if err != nil {
		return Identity{}, Identity{}, false, err
	}
	if operation == "" {
		return Identity{}, Identity{}, false, contracts.ErrEmptyOperation
	}

	typeID := Identity{Owner: key.typeKey(), Operation: operation}
	if key.Scope != ScopeInstance {
		return typeID, Identity{}, false, nil
	}
	return typeID, Identity{Owner: key, Operation: operation}, true, nil
}

// mergeInterceptors concatenates type-level interceptors (outer) with
// instance-level ones (inner), keeping each level's registration order
func mergeInterceptors(typeLevel, instanceLevel []interceptors.Interceptor) []interceptors.Interceptor {
	merged := make([]interceptors.Interceptor, 0, len(typeLevel)+len(instanceLevel))
	merged = append(merged, typeLevel...)
	return append(merged, instanceLevel...)
}
