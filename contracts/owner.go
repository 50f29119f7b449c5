package contracts

import (
	"github.com/google/uuid"
)

// Owner is anything operations can be registered against.
type Owner interface {
	// OwnerType returns the type name shared by every instance of the owner
	OwnerType() string
}

// Instance is an owner scoped to one live object. Interceptors registered on an
// instance run inside those registered on its type.
type Instance interface {
	Owner
	// InstanceID returns the stable id assigned when the instance was built
	InstanceID() string
}

// TypeRef is a type-level owner
type TypeRef string

// OwnerType implements Owner
func (t TypeRef) OwnerType() string {
	return string(t)
}

// BaseInstance provides the owner fields for instance-scoped types. Embed it
// and construct it with NewBaseInstance.
type BaseInstance struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// NewBaseInstance creates a new base instance with a generated ID
func NewBaseInstance(typeName string) BaseInstance {
	return BaseInstance{
		ID:   uuid.New().String(),
		Type: typeName,
	}
}

// OwnerType implements Owner
func (b BaseInstance) OwnerType() string {
	return b.Type
}

// InstanceID implements Instance
func (b BaseInstance) InstanceID() string {
	return b.ID
}

// TypeOf returns the type-level owner of any owner
func TypeOf(owner Owner) TypeRef {
	return TypeRef(owner.OwnerType())
}
