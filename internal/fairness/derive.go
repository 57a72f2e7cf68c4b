// Package fairness implementa o esquema commit-reveal do dado: geração e custódia das
// server seeds por round e a derivação determinística do resultado.
package fairness

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
)

// Range é o tamanho do espaço de resultados: 0..999999.
const Range = 1_000_000

// maior múltiplo de Range que cabe em 32 bits; palavras >= acceptLimit são descartadas
const acceptLimit = (1 << 32) - ((1 << 32) % Range)

// Derive calcula o resultado de uma rodada a partir das três entradas.
//
//	digest = HMAC-SHA256(key=serverSeed, msg=clientSeed + ":" + nonce)
//
// O digest é lido em palavras big-endian de 32 bits; a primeira palavra abaixo de
// acceptLimit é reduzida módulo Range (amostragem por rejeição, sem viés de módulo).
// Se as oito palavras forem rejeitadas, o digest é estendido com
// HMAC(serverSeed, msg + ":" + k) para k = 1, 2, ...
func Derive(serverSeed, clientSeed string, nonce uint64) int {
	msg := clientSeed + ":" + strconv.FormatUint(nonce, 10)
	for k := 0; ; k++ {
		m := msg
		if k > 0 {
			m = msg + ":" + strconv.Itoa(k)
		}
		mac := hmac.New(sha256.New, []byte(serverSeed))
		mac.Write([]byte(m))
		if v, ok := firstAccepted(mac.Sum(nil)); ok {
			return v
		}
	}
}

func firstAccepted(digest []byte) (int, bool) {
	for i := 0; i+4 <= len(digest); i += 4 {
		w := binary.BigEndian.Uint32(digest[i : i+4])
		if uint64(w) < acceptLimit {
			return int(w % Range), true
		}
	}
	return 0, false
}

// HashSeed é o compromisso público de uma seed: hex(sha256(seed)).
func HashSeed(serverSeed string) string {
	sum := sha256.Sum256([]byte(serverSeed))
	return hex.EncodeToString(sum[:])
}

// VerifySeed confere se a seed revelada corresponde ao hash publicado.
func VerifySeed(serverSeed, serverSeedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashSeed(serverSeed)), []byte(serverSeedHash)) == 1
}

// NewSeed gera 32 bytes de entropia em hex.
func NewSeed(r io.Reader) (string, error) {
	var b [32]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

var defaultEntropy io.Reader = rand.Reader
