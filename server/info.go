package server

import (
	"os"
	"strings"

	"github.com/vlplay/xeno/pkg/xeno"
)

// DefaultInfoFile is the metadata file written at bridge startup.
const DefaultInfoFile = "xeno_info.txt"

// supportedCapabilities are the SUPPORT_* tokens advertised to the host.
var supportedCapabilities = []string{
	"SUPPORT_COMPILE",
	"SUPPORT_RUN",
	"SUPPORT_STOP",
	"SUPPORT_STEP",
	"SUPPORT_STDIN",
	"SUPPORT_SET_LIMITS",
	"SUPPORT_DUMP_STATE",
	"SUPPORT_DISASSEMBLE",
	"SUPPORT_WEBSOCKET",
}

// WriteInfoFile writes the language/bridge metadata followed by the
// [API_SETTINGS] capability section.
func WriteInfoFile(path string) error {
	if path == "" {
		path = DefaultInfoFile
	}

	var sb strings.Builder
	sb.WriteString("Language: " + xeno.LanguageName + "\n")
	sb.WriteString("LanguageVersion: " + xeno.LanguageVersion + "\n")
	sb.WriteString("LanguageDate: " + xeno.LanguageDate + "\n")
	sb.WriteString("VMVersion: " + xeno.VMVersion + "\n")
	sb.WriteString("VMDate: " + xeno.VMDate + "\n")
	sb.WriteString("CompilerVersion: " + xeno.CompilerVersion + "\n")
	sb.WriteString("CompilerDate: " + xeno.CompilerDate + "\n")
	sb.WriteString("BridgeVersion: " + BridgeVersion + "\n")
	sb.WriteString("BridgeDate: " + BridgeDate + "\n")
	sb.WriteString("[API_SETTINGS]\n")
	for _, capability := range supportedCapabilities {
		sb.WriteString(capability + "\n")
	}

	return os.WriteFile(path, []byte(sb.String()), 0o644)
}
