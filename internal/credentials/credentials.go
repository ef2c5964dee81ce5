package credentials

import (
	"context"
	"errors"
	"fmt"
)

// Credentials — расшифрованные ключи доступа к API провайдера для
// конкретного тенанта. Читаются один раз на запуск sync-прохода и
// передаются вниз явно; внутри прохода не перечитываются (ключи
// могут ротироваться между запусками, но не посреди одного).
type Credentials struct {
	APIKey      string
	AccountCode string
	BaseURL     string
}

type Resolver interface {
	Resolve(ctx context.Context, tenantID, providerID string) (Credentials, error)
}

// MissingCredentialsError — precondition: без ключей проход не стартует,
// это единственный класс ошибок, который валит запуск целиком.
type MissingCredentialsError struct {
	TenantID   string
	ProviderID string
}

func (e *MissingCredentialsError) Error() string {
	return fmt.Sprintf("credentials missing for tenant %q provider %q", e.TenantID, e.ProviderID)
}

func IsMissing(err error) bool {
	var m *MissingCredentialsError
	return errors.As(err, &m)
}
