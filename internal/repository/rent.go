package repository

// Параметры депозита за хранение.
const (
	// AccountStorageOverhead служебные байты слота, учитываемые в депозите.
	AccountStorageOverhead = 128
	// LamportsPerByteYear стоимость хранения одного байта в год.
	LamportsPerByteYear = 3480
	// ExemptionYears сколько лет хранения покрывает депозит.
	ExemptionYears = 2
)

// MinimumBalance возвращает депозит, удерживаемый слотом размера space.
func MinimumBalance(space int) int64 {
	return int64(AccountStorageOverhead+space) * LamportsPerByteYear * ExemptionYears
}
