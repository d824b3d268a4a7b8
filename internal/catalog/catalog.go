package catalog

import (
	"fmt"

	xerrors "PayChat/internal/errors"
)

// 操作名称。
const (
	OpSignup   = "signup"
	OpLogin    = "login"
	OpTransfer = "transfer"
	OpLogout   = "logout"
)

// CodeUnknownOperation 表示模型请求了当前不可见或不存在的操作。
const CodeUnknownOperation xerrors.Code = "UNKNOWN_OPERATION"

func init() {
	xerrors.Register(CodeUnknownOperation, xerrors.Attributes{Message: "unknown operation", Severity: xerrors.SeverityInfo, Recoverable: true})
	xerrors.Register(CodeArgumentInvalid, xerrors.Attributes{Message: "invalid arguments", Severity: xerrors.SeverityInfo, Recoverable: true})
}

// ErrUnknownOperation 用于 errors.Is 比较。
var ErrUnknownOperation = xerrors.New(CodeUnknownOperation, "")

// UnknownOperation 构造指定名称的 UNKNOWN_OPERATION 错误。
func UnknownOperation(name string) error {
	return xerrors.New(CodeUnknownOperation, fmt.Sprintf("unknown operation %q", name))
}

// Catalog 是两组互斥的操作集合，构造后不可变，可在会话间共享。
type Catalog struct {
	unauthenticated []Descriptor
	authenticated   []Descriptor
	byName          map[string]Descriptor
}

// New 根据给定的两组描述符构造 Catalog。
func New(unauthenticated, authenticated []Descriptor) *Catalog {
	c := &Catalog{
		unauthenticated: append([]Descriptor(nil), unauthenticated...),
		authenticated:   append([]Descriptor(nil), authenticated...),
		byName:          make(map[string]Descriptor, len(unauthenticated)+len(authenticated)),
	}
	for _, d := range c.unauthenticated {
		c.byName[d.Name] = d
	}
	for _, d := range c.authenticated {
		c.byName[d.Name] = d
	}
	return c
}

// Default 返回支付助手的标准操作集合。
func Default() *Catalog {
	return New(
		[]Descriptor{signupDescriptor, loginDescriptor},
		[]Descriptor{transferDescriptor, logoutDescriptor},
	)
}

// OperationsFor 返回与认证状态对应的操作列表，顺序固定。
func (c *Catalog) OperationsFor(authenticated bool) []Descriptor {
	if authenticated {
		return append([]Descriptor(nil), c.authenticated...)
	}
	return append([]Descriptor(nil), c.unauthenticated...)
}

// Describe 按名称查找描述符，不区分认证状态。
func (c *Catalog) Describe(name string) (Descriptor, error) {
	d, ok := c.byName[name]
	if !ok {
		return Descriptor{}, UnknownOperation(name)
	}
	return d, nil
}

// Visible 判断操作在给定认证状态下是否可见。
func (c *Catalog) Visible(name string, authenticated bool) bool {
	for _, d := range c.OperationsFor(authenticated) {
		if d.Name == name {
			return true
		}
	}
	return false
}

var (
	signupDescriptor = Descriptor{
		Name:        OpSignup,
		Description: "Sign up a new user. User should provide username and password. You CANNOT sign up if the user hasn't provided username and password",
		Fields: []Field{
			{Name: "username", Type: TypeString, Required: true},
			{Name: "password", Type: TypeString, Required: true},
		},
	}
	loginDescriptor = Descriptor{
		Name:        OpLogin,
		Description: "Let the user login. User should provide username and password",
		Fields: []Field{
			{Name: "username", Type: TypeString, Required: true},
			{Name: "password", Type: TypeString, Required: true},
		},
	}
	transferDescriptor = Descriptor{
		Name:        OpTransfer,
		Description: "Transfer money to another user. User should provide the receiver and the amount to transfer. Note the amount must between 1 and one's balance",
		Fields: []Field{
			{Name: "to", Type: TypeString, Description: "username of the receiver", Required: true},
			{Name: "amount", Type: TypeInteger, Description: "amount to transfer", Required: true},
		},
	}
	logoutDescriptor = Descriptor{
		Name:        OpLogout,
		Description: "Let the user logout",
	}
)
