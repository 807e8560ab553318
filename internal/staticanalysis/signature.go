package staticanalysis

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/sirupsen/logrus"
	"go.mozilla.org/pkcs7"
)

// APK 签名块（v2/v3）常量
const (
	signingBlockMagic = "APK Sig Block 42"
	schemeV2ID        = 0x7109871a
	schemeV3ID        = 0xf05368c0
	schemeV31ID       = 0x1b93ad61

	eocdSignature = 0x06054b50
	eocdSize      = 22
	maxCommentLen = 0xffff
)

var errMalformedSigningBlock = errors.New("malformed APK signing block")

// signerCertificates 提取签名证书：v2/v3 签名块 + v1 META-INF 签名文件
// 只解析证书，不做签名校验，也不读取其他条目
func signerCertificates(archive *Archive, logger *logrus.Logger) []string {
	certs := []string{}

	blockCerts, err := signingBlockCertificates(archive.Bytes())
	if err != nil {
		logger.WithError(err).Debug("APK signing block skipped")
	}
	for _, cert := range blockCerts {
		certs = appendUnique(certs, describeCertificate(cert))
	}

	for _, name := range archive.Names() {
		if !isSignatureBlockFile(name) {
			continue
		}
		data, err := archive.ReadEntry(name)
		if err != nil {
			logger.WithError(err).WithField("entry", name).Debug("Signature file skipped")
			continue
		}
		p7, err := pkcs7.Parse(data)
		if err != nil {
			logger.WithError(err).WithField("entry", name).Debug("Failed to parse signature file")
			continue
		}

		if signer := p7.GetOnlySigner(); signer != nil {
			certs = appendUnique(certs, describeCertificate(signer))
			continue
		}
		for _, cert := range p7.Certificates {
			certs = appendUnique(certs, describeCertificate(cert))
		}
	}

	return certs
}

// isSignatureBlockFile META-INF 下的 .RSA/.DSA/.EC 文件
func isSignatureBlockFile(name string) bool {
	if !strings.EqualFold(path.Dir(name), "META-INF") {
		return false
	}
	switch strings.ToUpper(path.Ext(name)) {
	case ".RSA", ".DSA", ".EC":
		return true
	}
	return false
}

// describeCertificate 证书描述：主题 + SHA-256 指纹
func describeCertificate(cert *x509.Certificate) string {
	fingerprint := sha256.Sum256(cert.Raw)
	return fmt.Sprintf("%s sha256=%s", cert.Subject.String(), hex.EncodeToString(fingerprint[:]))
}

// signingBlockCertificates 解析中央目录之前的 APK 签名块，没有签名块时返回空
func signingBlockCertificates(data []byte) ([]*x509.Certificate, error) {
	cdOffset, err := centralDirectoryOffset(data)
	if err != nil {
		return nil, err
	}
	if cdOffset < 32 {
		return nil, nil
	}

	footer := data[cdOffset-24 : cdOffset]
	if string(footer[8:]) != signingBlockMagic {
		return nil, nil
	}

	// 头尾各有一个 uint64 块长度，长度不含头部字段
	blockSize := binary.LittleEndian.Uint64(footer[:8])
	if blockSize < 24 || blockSize > uint64(cdOffset-8) {
		return nil, errMalformedSigningBlock
	}
	start := cdOffset - int(blockSize) - 8
	if binary.LittleEndian.Uint64(data[start:start+8]) != blockSize {
		return nil, errMalformedSigningBlock
	}

	var certs []*x509.Certificate
	pairs := data[start+8 : cdOffset-24]
	for len(pairs) > 0 {
		if len(pairs) < 12 {
			return certs, errMalformedSigningBlock
		}
		n := binary.LittleEndian.Uint64(pairs[:8])
		if n < 4 || n > uint64(len(pairs)-8) {
			return certs, errMalformedSigningBlock
		}
		id := binary.LittleEndian.Uint32(pairs[8:12])
		value := pairs[12 : 8+n]
		pairs = pairs[8+n:]

		switch id {
		case schemeV2ID, schemeV3ID, schemeV31ID:
			found, err := schemeCertificates(value)
			certs = append(certs, found...)
			if err != nil {
				return certs, fmt.Errorf("scheme 0x%08x: %w", id, err)
			}
		}
	}

	return certs, nil
}

// schemeCertificates 解析 v2/v3 签名者序列中的证书
// signer = signed data(digests, certificates, ...) + signatures + public key
func schemeCertificates(value []byte) ([]*x509.Certificate, error) {
	signers, _, err := lengthPrefixed(value)
	if err != nil {
		return nil, err
	}

	var certs []*x509.Certificate
	for len(signers) > 0 {
		var signer []byte
		if signer, signers, err = lengthPrefixed(signers); err != nil {
			return certs, err
		}
		signedData, _, err := lengthPrefixed(signer)
		if err != nil {
			return certs, err
		}
		_, rest, err := lengthPrefixed(signedData)
		if err != nil {
			return certs, err
		}
		encoded, _, err := lengthPrefixed(rest)
		if err != nil {
			return certs, err
		}

		for len(encoded) > 0 {
			var der []byte
			if der, encoded, err = lengthPrefixed(encoded); err != nil {
				return certs, err
			}
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				return certs, fmt.Errorf("parse certificate: %w", err)
			}
			certs = append(certs, cert)
		}
	}

	return certs, nil
}

// lengthPrefixed 读取 uint32 长度前缀的字段
func lengthPrefixed(b []byte) (value, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, errMalformedSigningBlock
	}
	n := uint64(binary.LittleEndian.Uint32(b))
	if n > uint64(len(b)-4) {
		return nil, nil, errMalformedSigningBlock
	}
	return b[4 : 4+n], b[4+n:], nil
}

// centralDirectoryOffset 从 EOCD 记录读取中央目录偏移
func centralDirectoryOffset(data []byte) (int, error) {
	if len(data) < eocdSize {
		return 0, fmt.Errorf("end of central directory not found")
	}

	lowest := len(data) - eocdSize - maxCommentLen
	if lowest < 0 {
		lowest = 0
	}
	for i := len(data) - eocdSize; i >= lowest; i-- {
		if binary.LittleEndian.Uint32(data[i:]) != eocdSignature {
			continue
		}
		commentLen := int(binary.LittleEndian.Uint16(data[i+20:]))
		if i+eocdSize+commentLen != len(data) {
			continue
		}
		offset := int(binary.LittleEndian.Uint32(data[i+16:]))
		if offset > i {
			return 0, fmt.Errorf("central directory offset %d out of range", offset)
		}
		return offset, nil
	}

	return 0, fmt.Errorf("end of central directory not found")
}
