package cache

import "fmt"

// ResultKey maps a request fingerprint to its cached artifact reference.
func ResultKey(fingerprint string) string {
	return fmt.Sprintf("result:%s", fingerprint)
}
