package auth

import (
	"crypto/rand"
	"fmt"
)

// StateLength はログイン試行ごとに発行するstateの文字数。
const StateLength = 64

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateState はcrypto/randから英数字のstateを生成する。
// 偏りを避けるため、62の倍数に収まらないバイトは捨てる。
func GenerateState() (string, error) {
	const limit = 256 - 256%len(alphanumeric)

	out := make([]byte, 0, StateLength)
	buf := make([]byte, StateLength)
	for len(out) < StateLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphanumeric[int(b)%len(alphanumeric)])
			if len(out) == StateLength {
				break
			}
		}
	}
	return string(out), nil
}
