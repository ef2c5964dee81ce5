package credentials

import "context"

// StaticResolver — резолвер поверх конфига. Настоящее хранилище ключей
// (с шифрованием и decrypt-on-read) живёт в отдельном сервисе; здесь нам
// достаточно контракта Resolve + источника для демо и тестов.
type StaticResolver struct {
	creds map[string]Credentials
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{creds: make(map[string]Credentials)}
}

func (r *StaticResolver) Add(tenantID, providerID string, c Credentials) *StaticResolver {
	r.creds[key(tenantID, providerID)] = c
	return r
}

func (r *StaticResolver) Resolve(_ context.Context, tenantID, providerID string) (Credentials, error) {
	c, ok := r.creds[key(tenantID, providerID)]
	if !ok {
		return Credentials{}, &MissingCredentialsError{TenantID: tenantID, ProviderID: providerID}
	}
	return c, nil
}

func key(tenantID, providerID string) string {
	return tenantID + "|" + providerID
}
