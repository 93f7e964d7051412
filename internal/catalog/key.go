package catalog

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	moduleIDPattern = regexp.MustCompile(`^[a-z0-9_]+$`)
	topicIDPattern  = regexp.MustCompile(`^[a-z0-9_-]+$`)
)

// TopicKey identifies one topic across the whole catalog. It is comparable and
// safe to use as a map key. Its external form is "<module>-<topic>".
type TopicKey struct {
	Module ModuleID
	Topic  string
}

// String renders the key as "<module>-<topic>".
func (k TopicKey) String() string {
	return string(k.Module) + "-" + k.Topic
}

// Valid reports whether both halves satisfy the catalog id charset.
func (k TopicKey) Valid() bool {
	return moduleIDPattern.MatchString(string(k.Module)) && topicIDPattern.MatchString(k.Topic)
}

// MarshalText lets TopicKey act as a JSON object key.
func (k TopicKey) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid topic key %q", k.String())
	}
	return []byte(k.String()), nil
}

// UnmarshalText parses the "<module>-<topic>" form.
func (k *TopicKey) UnmarshalText(text []byte) error {
	parsed, err := ParseTopicKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseTopicKey splits s on its first hyphen. Module ids never contain a
// hyphen, so the split is unambiguous even when the topic id does.
func ParseTopicKey(s string) (TopicKey, error) {
	i := strings.IndexByte(s, '-')
	if i <= 0 || i == len(s)-1 {
		return TopicKey{}, fmt.Errorf("invalid topic key %q: want <module>-<topic>", s)
	}
	k := TopicKey{Module: ModuleID(s[:i]), Topic: s[i+1:]}
	if !k.Valid() {
		return TopicKey{}, fmt.Errorf("invalid topic key %q: unexpected characters", s)
	}
	return k, nil
}
