package logic

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"wren/dal"
	"wren/shared"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../test/mocks/mock_signature_codec.go -package mocks wren/logic ISignatureCodec

// ISignatureCodec parses, verifies and produces HTTP request signatures,
// and generates the keypairs they are built on.
type ISignatureCodec interface {
	ParseSignatureHeader(raw string) map[string]string
	Verify(method, path string, headers http.Header, pubKeyPem string) bool
	Sign(canonical string, privKey *rsa.PrivateKey) (string, error)
	SignedHeaders(actor *dal.Actor, method, targetUrl string, body []byte) (map[string]string, error)
	GenerateKeyPair() (pubKey, privKey string, err error)
	DecodePrivKey(privKeyPem string) (*rsa.PrivateKey, error)
}

type signatureCodec struct {
	cfg    *shared.Config
	logger shared.ILogger
	rePart *regexp.Regexp
}

func NewSignatureCodec(cfg *shared.Config, logger shared.ILogger) ISignatureCodec {
	// token="value"; value charset is deliberately narrow
	rePart := regexp.MustCompile(`^([0-9a-zA-Z]+)="([0-9a-zA-Z:/.#\-() +=]*)"$`)
	return &signatureCodec{cfg, logger, rePart}
}

// ParseSignatureHeader splits a Signature header into its parts. Malformed
// input yields an empty map; it never fails any other way.
func (codec *signatureCodec) ParseSignatureHeader(raw string) map[string]string {

	res := make(map[string]string)
	if raw == "" {
		return res
	}
	for _, part := range strings.Split(raw, ",") {
		groups := codec.rePart.FindStringSubmatch(part)
		if groups == nil {
			return make(map[string]string)
		}
		res[groups[1]] = groups[2]
	}
	return res
}

// Verify reconstructs the canonical string named by the signature's
// 'headers' list and checks the signature against pubKeyPem. Anything
// unexpected, from a missing part to a crypto error, yields false.
func (codec *signatureCodec) Verify(method, path string, headers http.Header, pubKeyPem string) bool {

	parts := codec.ParseSignatureHeader(headers.Get("Signature"))
	signedHeaderList := parts["headers"]
	sigB64 := parts["signature"]
	if signedHeaderList == "" || sigB64 == "" {
		return false
	}
	if algo, ok := parts["algorithm"]; ok && algo != "rsa-sha256" {
		return false
	}

	lines := make([]string, 0, 8)
	for _, name := range strings.Fields(signedHeaderList) {
		if name == "(request-target)" {
			lines = append(lines, fmt.Sprintf("(request-target): %s %s", strings.ToLower(method), path))
			continue
		}
		val := headers.Get(name)
		if val == "" {
			return false
		}
		lines = append(lines, strings.ToLower(name)+": "+val)
	}
	canonical := strings.Join(lines, "\n")

	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	block, _ := pem.Decode([]byte(pubKeyPem))
	if block == nil {
		return false
	}
	pubKeyAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return false
	}
	pubKey, ok := pubKeyAny.(*rsa.PublicKey)
	if !ok {
		return false
	}
	hashed := sha256.Sum256([]byte(canonical))
	return rsa.VerifyPKCS1v15(pubKey, crypto.SHA256, hashed[:], sig) == nil
}

func (codec *signatureCodec) Sign(canonical string, privKey *rsa.PrivateKey) (string, error) {
	hashed := sha256.Sum256([]byte(canonical))
	sig, err := rsa.SignPKCS1v15(rand.Reader, privKey, crypto.SHA256, hashed[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// SignedHeaders builds the outbound headers for delivering body to
// targetUrl as actor. An actor without a private key gets the headers
// without a signature; such a request must not be used for authenticated
// delivery.
func (codec *signatureCodec) SignedHeaders(
	actor *dal.Actor, method, targetUrl string, body []byte,
) (map[string]string, error) {

	host, err := shared.GetHostName(targetUrl)
	if err != nil {
		return nil, err
	}
	path := targetUrl
	if ix := strings.Index(targetUrl, host); ix != -1 {
		path = targetUrl[ix+len(host):]
	}
	if path == "" {
		path = "/"
	}

	digest := sha256.Sum256(body)
	res := map[string]string{
		"host":         host,
		"date":         time.Now().UTC().Format(http.TimeFormat),
		"digest":       "SHA-256=" + base64.StdEncoding.EncodeToString(digest[:]),
		"content-type": "application/activity+json",
	}
	if actor.PrivateKey == "" {
		return res, nil
	}

	privKey, err := codec.DecodePrivKey(actor.PrivateKey)
	if err != nil {
		return nil, err
	}
	canonical := strings.Join([]string{
		fmt.Sprintf("(request-target): %s %s", strings.ToLower(method), path),
		"host: " + res["host"],
		"date: " + res["date"],
		"digest: " + res["digest"],
		"content-type: " + res["content-type"],
	}, "\n")
	sigB64, err := codec.Sign(canonical, privKey)
	if err != nil {
		return nil, err
	}
	res["signature"] = fmt.Sprintf(
		`keyId="%s#main-key",algorithm="rsa-sha256",headers="(request-target) host date digest content-type",signature="%s"`,
		actor.Id, sigB64)
	return res, nil
}

func (codec *signatureCodec) GenerateKeyPair() (pubKey, privKey string, err error) {

	pubKey = ""
	privKey = ""
	err = nil

	var key *rsa.PrivateKey
	key, err = rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		return
	}

	var pubDer []byte
	pubDer, err = x509.MarshalPKIXPublicKey(key.Public())
	if err != nil {
		return
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubDer,
	})

	var privDer []byte
	privDer, err = x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return
	}
	encBlock, err := x509.EncryptPEMBlock(
		rand.Reader, "ENCRYPTED PRIVATE KEY", privDer,
		[]byte(codec.cfg.Secrets.SecretPhrase), x509.PEMCipherAES256)
	if err != nil {
		return
	}
	keyPEM := pem.EncodeToMemory(encBlock)

	pubKey = string(pubPEM)
	privKey = string(keyPEM)

	return
}

func (codec *signatureCodec) DecodePrivKey(privKeyPem string) (*rsa.PrivateKey, error) {

	block, _ := pem.Decode([]byte(privKeyPem))
	if block == nil {
		return nil, errors.New("no PEM block in private key")
	}
	keyBytes := block.Bytes
	if x509.IsEncryptedPEMBlock(block) {
		var err error
		keyBytes, err = x509.DecryptPEMBlock(block, []byte(codec.cfg.Secrets.SecretPhrase))
		if err != nil {
			return nil, err
		}
	}
	keyAny, err := x509.ParsePKCS8PrivateKey(keyBytes)
	if err != nil {
		return nil, err
	}
	privKey, ok := keyAny.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return privKey, nil
}
