package radio

import (
	"strings"

	"github.com/lokanos/hub/internal/apperrors"
)

func ensureHex(value string, expectedLen int, field string) error {
	if len(value) != expectedLen {
		return apperrors.Validation(field + " must be " + itoa(expectedLen) + " hexadecimal characters")
	}
	for _, r := range value {
		if !isHexDigit(r) {
			return apperrors.Validation(field + " must contain only hexadecimal characters")
		}
	}
	return nil
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

func ensureName(value string, min, max int, field string) error {
	if len(value) < min || len(value) > max {
		return apperrors.Validation(field + " must be between " + itoa(min) + " and " + itoa(max) + " characters")
	}
	for _, r := range value {
		if r < 0x20 || r > 0x7e {
			return apperrors.Validation(field + " must contain printable ASCII characters")
		}
	}
	return nil
}

func ensureThreadChannel(channel int) error {
	if channel < 11 || channel > 26 {
		return apperrors.Validation("thread channel is outside the 11-26 range")
	}
	return nil
}

func ensureWifiChannel(channel int) error {
	if channel < 1 || channel > 165 {
		return apperrors.Validation("wifi channel is outside the 1-165 range")
	}
	return nil
}

var validBands = map[string]struct{}{
	"2.4ghz": {}, "5ghz": {}, "6ghz": {}, "dual": {},
}

func ensureBand(band string) error {
	if _, ok := validBands[strings.ToLower(band)]; !ok {
		return apperrors.Validation("unsupported band; expected 2.4GHz, 5GHz, 6GHz, or dual")
	}
	return nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func validateThreadDataset(req ThreadDatasetRequest) error {
	if err := ensureHex(req.DatasetID, 32, "datasetId"); err != nil {
		return err
	}
	if err := ensureName(req.NetworkName, 1, 16, "networkName"); err != nil {
		return err
	}
	if err := ensureThreadChannel(req.Channel); err != nil {
		return err
	}
	if err := ensureHex(req.PanID, 4, "panId"); err != nil {
		return err
	}
	if req.XPanID != "" {
		if err := ensureHex(req.XPanID, 16, "xpanId"); err != nil {
			return err
		}
	}
	if req.MasterKey != "" {
		if err := ensureHex(req.MasterKey, 32, "masterKey"); err != nil {
			return err
		}
	}
	if req.PSKc != "" {
		if err := ensureHex(req.PSKc, 32, "pskc"); err != nil {
			return err
		}
	}
	return nil
}

func validateThreadChannel(req ThreadChannelRequest) error {
	if err := ensureThreadChannel(req.Channel); err != nil {
		return err
	}
	if req.DatasetID != "" {
		if err := ensureHex(req.DatasetID, 32, "datasetId"); err != nil {
			return err
		}
	}
	return nil
}

var validWifiSecurity = map[string]struct{}{"open": {}, "wpa2": {}, "wpa3": {}}

func validateWifiConfig(req WifiConfigRequest) error {
	if err := ensureName(req.SSID, 1, 32, "ssid"); err != nil {
		return err
	}

	security := strings.ToLower(req.Security)
	if security == "" {
		security = "wpa2"
	}
	if _, ok := validWifiSecurity[security]; !ok {
		return apperrors.Validation("unsupported wifi security mode")
	}

	if security == "wpa2" || security == "wpa3" {
		if len(req.Passphrase) < 8 || len(req.Passphrase) > 63 {
			return apperrors.Validation("passphrase must be between 8 and 63 characters")
		}
	}

	if req.Band != "" {
		if err := ensureBand(req.Band); err != nil {
			return err
		}
	}
	if req.Channel != 0 {
		if err := ensureWifiChannel(req.Channel); err != nil {
			return err
		}
	}
	return nil
}

func validateWifiChannel(req WifiChannelRequest) error {
	if err := ensureWifiChannel(req.Channel); err != nil {
		return err
	}
	if req.Band != "" {
		if err := ensureBand(req.Band); err != nil {
			return err
		}
	}
	return nil
}
