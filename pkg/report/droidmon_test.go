package report

import (
	"testing"
)

func TestDroidmonClassFingerprint(t *testing.T) {
	droidmon := RawReport{
		"raw": []interface{}{
			map[string]interface{}{"class": "android.telephony.SmsManager"},
			map[string]interface{}{"class": "javax.crypto.Cipher"},
			map[string]interface{}{"class": "javax.crypto.Cipher"},
		},
	}
	n := NewNormalizer(nil, nil)
	findings := n.processDroidmon(droidmon, RawReport{})

	sec := FindByTitle(findings, "Droidmon")
	if sec == nil {
		t.Fatal("Droidmon finding missing")
	}
	var classTags int
	for _, tag := range sec.Tags {
		if tag.Key == TagSsdeepClasses {
			classTags++
		}
	}
	if classTags != 2 {
		t.Errorf("expected the two chunk parts as tags, got %d: %v", classTags, sec.Tags)
	}
}

func TestDroidmonHTTPConnectionMerge(t *testing.T) {
	droidmon := RawReport{
		"httpConnections": []interface{}{
			map[string]interface{}{"request": "GET http://c2.example:8080/beacon HTTP/1.1"},
			map[string]interface{}{"request": "GET http://c2.example:8080/beacon HTTP/1.1"},
			map[string]interface{}{"request": "not an http line"},
		},
	}
	network := RawReport{}

	NewNormalizer(nil, nil).processDroidmon(droidmon, network)

	httpList := network.Slice("http")
	if len(httpList) != 1 {
		t.Fatalf("expected 1 merged http entry, got %d", len(httpList))
	}
	entry := asMap(httpList[0])
	if entry.String("host") != "c2.example" {
		t.Errorf("host = %q", entry.String("host"))
	}
	if entry.String("uri") != "http://c2.example:8080/beacon" {
		t.Errorf("uri = %q", entry.String("uri"))
	}
	if got := entry.Int("count", 0); got != 2 {
		t.Errorf("count = %d, want 2", got)
	}
}

func TestDroidmonSMSAndCrypto(t *testing.T) {
	droidmon := RawReport{
		"sms": []interface{}{
			map[string]interface{}{"dest_number": "+1555123", "body": "premium"},
		},
		"crypto_keys": []interface{}{
			map[string]interface{}{"type": "AES", "key": "deadbeef"},
		},
	}
	findings := NewNormalizer(nil, nil).processDroidmon(droidmon, RawReport{})

	sms := FindByTitle(findings, "SMS Activity")
	if sms == nil || sms.Heuristic != 1 {
		t.Errorf("SMS finding missing or wrong heuristic: %+v", sms)
	}
	crypto := FindByTitle(findings, "Crypto Keys")
	if crypto == nil || crypto.Heuristic != 2 {
		t.Errorf("crypto finding missing or wrong heuristic: %+v", crypto)
	}

	droidmonSec := FindByTitle(findings, "Droidmon")
	if droidmonSec == nil {
		t.Fatal("Droidmon finding missing")
	}
	var phone, cryptoType bool
	for _, tag := range droidmonSec.Tags {
		if tag.Key == TagPhoneNumber && tag.Value == "+1555123" {
			phone = true
		}
		if tag.Key == TagCryptoType && tag.Value == "AES" {
			cryptoType = true
		}
	}
	if !phone || !cryptoType {
		t.Errorf("phone/crypto tags missing: %v", droidmonSec.Tags)
	}
}
