package domain

import (
	"fmt"
	"strings"
)

// Kind identifies the data source a backup was taken from.
type Kind string

const (
	KindMongoDB Kind = "mongodb"
	KindMySQL   Kind = "mysql"
	KindFolder  Kind = "folder"
)

var Kinds = []Kind{KindMongoDB, KindMySQL, KindFolder}

// Label is the archive name prefix for the kind, without the trailing underscore.
func (k Kind) Label() string {
	switch k {
	case KindMongoDB:
		return "mongodb_dump"
	case KindMySQL:
		return "mysql_dump"
	case KindFolder:
		return "folder_backup"
	default:
		return string(k)
	}
}

// Prefix is the label followed by the separator, used when selecting archives.
func (k Kind) Prefix() string {
	return k.Label() + "_"
}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", Configuration("parse kind", fmt.Errorf("unknown kind %q (want mongodb, mysql or folder)", s))
}
