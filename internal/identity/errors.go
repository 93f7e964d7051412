package identity

import "fmt"

type Kind string

const (
	KindDuplicateEmail     Kind = "duplicate_email"
	KindWeakPassword       Kind = "weak_password"
	KindInvalidEmail       Kind = "invalid_email"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindInvalidToken       Kind = "invalid_token"
	// KindNetwork covers failures reaching the credential store.
	KindNetwork Kind = "network"
)

var messages = map[Kind]string{
	KindDuplicateEmail:     "该邮箱已被注册",
	KindWeakPassword:       "密码至少需要 6 个字符",
	KindInvalidEmail:       "邮箱格式不正确",
	KindInvalidCredentials: "邮箱或密码错误",
	KindInvalidToken:       "登录已失效，请重新登录",
	KindNetwork:            "网络异常，请稍后再试",
}

// AuthError is returned by every Provider operation that fails. Message is
// suitable for showing to the user as is.
type AuthError struct {
	Kind Kind
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth %s: %v", e.Kind, e.Err)
	}
	return "auth " + string(e.Kind)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Message returns the localized text for the error kind.
func (e *AuthError) Message() string {
	if m, ok := messages[e.Kind]; ok {
		return m
	}
	return "认证失败"
}
