package mohnet

import (
	"errors"
	"sort"
	"strings"
)

// MaxInfoString bounds userinfo and similar info strings
const MaxInfoString = 1350

var ErrInfoChars = errors.New("info: key or value contains \\, ; or \"")

// InfoPairs splits an info string of the form \key\value\key\value
func InfoPairs(info string) [][2]string {
	info = strings.TrimPrefix(info, `\`)
	if info == "" {
		return nil
	}

	parts := strings.Split(info, `\`)
	pairs := make([][2]string, 0, (len(parts)+1)/2)
	for i := 0; i < len(parts); i += 2 {
		var v string
		if i+1 < len(parts) {
			v = parts[i+1]
		}
		pairs = append(pairs, [2]string{parts[i], v})
	}
	return pairs
}

// InfoValueForKey returns the value of key or the empty string
func InfoValueForKey(info, key string) string {
	for _, p := range InfoPairs(info) {
		if strings.EqualFold(p[0], key) {
			return p[1]
		}
	}
	return ""
}

// InfoRemoveKey returns info without key
func InfoRemoveKey(info, key string) string {
	var b strings.Builder
	for _, p := range InfoPairs(info) {
		if strings.EqualFold(p[0], key) {
			continue
		}
		b.WriteString(`\` + p[0] + `\` + p[1])
	}
	return b.String()
}

// InfoSetValueForKey replaces key in info, moving it to the end. An
// empty value removes the key.
func InfoSetValueForKey(info, key, value string) (string, error) {
	if strings.ContainsAny(key, `\;"`) || strings.ContainsAny(value, `\;"`) {
		return info, ErrInfoChars
	}

	info = InfoRemoveKey(info, key)
	if value == "" {
		return info, nil
	}
	return info + `\` + key + `\` + value, nil
}

// InfoFromMap builds an info string with the keys in sorted order
func InfoFromMap(m map[string]string) (string, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var info string
	for _, k := range keys {
		var err error
		if info, err = InfoSetValueForKey(info, k, m[k]); err != nil {
			return "", err
		}
	}
	return info, nil
}
