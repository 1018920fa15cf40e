package replication

import (
	"regexp"
	"strconv"
	"strings"
)

// dialect holds the statements that changed names in MySQL 8.0.22 (REPLICA
// keywords) and 8.0.23 (CHANGE REPLICATION SOURCE TO).
type dialect struct {
	stop   string
	start  string
	reset  string
	status string

	change    string
	keyPrefix string
}

var (
	modernReplica = dialect{
		stop:      "STOP REPLICA",
		start:     "START REPLICA",
		reset:     "RESET REPLICA ALL",
		status:    "SHOW REPLICA STATUS",
		change:    "CHANGE REPLICATION SOURCE TO",
		keyPrefix: "SOURCE_",
	}
	legacyReplica = dialect{
		stop:      "STOP SLAVE",
		start:     "START SLAVE",
		reset:     "RESET SLAVE ALL",
		status:    "SHOW SLAVE STATUS",
		change:    "CHANGE MASTER TO",
		keyPrefix: "MASTER_",
	}
)

var versionPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)`)

// dialectFor picks the statement syntax for a VERSION() string. MariaDB
// and anything unparseable get the legacy syntax.
func dialectFor(version string) dialect {
	if strings.Contains(strings.ToLower(version), "mariadb") {
		return legacyReplica
	}
	m := versionPattern.FindStringSubmatch(version)
	if m == nil {
		return legacyReplica
	}
	v := [3]int{}
	for i := range v {
		v[i], _ = strconv.Atoi(m[i+1])
	}

	d := legacyReplica
	if atLeast(v, [3]int{8, 0, 22}) {
		d.stop, d.start, d.reset, d.status = modernReplica.stop, modernReplica.start, modernReplica.reset, modernReplica.status
	}
	if atLeast(v, [3]int{8, 0, 23}) {
		d.change, d.keyPrefix = modernReplica.change, modernReplica.keyPrefix
	}
	return d
}

func atLeast(v, min [3]int) bool {
	for i := range v {
		if v[i] != min[i] {
			return v[i] > min[i]
		}
	}
	return true
}
