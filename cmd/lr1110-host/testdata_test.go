package main

import (
	"os"
	"path/filepath"
	"testing"
)

const goldenNav = "0101070808e210a8ef20e22e0014529bec007d0080a4522becb70e20513d41e5e9dd45b05a2115da3b8b67957d73c8f498caaa216e9aec23"

const sampleResults = `# version: 1.4.0:v2.1:1.0:0x0401:0xdeadbeef:1,16|2,256:0011223344556677
# comment REF 45.0000000,5.0000000,200.0
[2021-07-08 09:10:11.000000] [1 - 0] 00:11:22:33:44:55, CHANNEL_1, TYPE_B, -70, 400, 300, 200, 100
[2021-07-08 09:10:12.000000] [2 - 1] ` + goldenNav + `, 0, 50, 60, 7+GPS+40|12+BEIDOU+30
[2021-07-08 09:10:13.000000] [3 - 1] 0101, 0, 50, 60, 
[2021-07-08 09:10:14.000000] [4 - 2] No result
[2021-07-08 09:10:15.000000] [5 - 2] Exception
not a result line
`

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}
