package migration

import (
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm/schema"
)

func TestMySQLColumnTypes(t *testing.T) {
	precision := 3
	dialector := mysql.New(mysql.Config{
		SkipInitializeWithVersion: true,
		DefaultDatetimePrecision:  &precision,
	})
	cache := &sync.Map{}

	for _, model := range models() {
		s, err := schema.Parse(model, cache, schema.NamingStrategy{})
		require.NoError(t, err)

		for _, field := range s.Fields {
			if field.DBName == "" || field.IgnoreMigration {
				continue
			}
			name := s.Table + "." + field.DBName
			columnType := strings.ToLower(dialector.DataTypeOf(field))

			switch {
			case field.DataType == schema.Time:
				assert.True(t, strings.HasPrefix(columnType, "datetime(6)"), "%s has type %s", name, columnType)
			case field.FieldType.Kind() == reflect.String:
				assert.True(t, strings.HasPrefix(columnType, "varchar("), "%s has type %s", name, columnType)
			}
		}
	}
}
