package registry

import (
	"strings"
	"time"

	"certify/internal/certificate/models"
	"certify/pkg/domain"
	dErrors "certify/pkg/domain-errors"
)

// GetCertificateByHash returns the record with hash.
func (r *Registry) GetCertificateByHash(hash domain.CertHash) (models.CertificateRecord, error) {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	idx, ok := r.byHash[domain.CertHash(strings.ToLower(hash.String()))]
	if !ok {
		return models.CertificateRecord{}, dErrors.New(dErrors.CodeNotFound, "Certificate not found")
	}
	return r.records[idx], nil
}

// GetAllCertificates returns every record in insertion order.
func (r *Registry) GetAllCertificates() []models.CertificateRecord {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return append([]models.CertificateRecord{}, r.records...)
}

// GetStudentCertificates returns the student's records in insertion order.
func (r *Registry) GetStudentCertificates(student domain.Identity) []models.CertificateRecord {
	return r.studentWhere(student, func(models.CertificateRecord) bool { return true })
}

// GetStudentCertificateByHash returns hash only if it belongs to student.
func (r *Registry) GetStudentCertificateByHash(student domain.Identity, hash domain.CertHash) (models.CertificateRecord, error) {
	rec, err := r.GetCertificateByHash(hash)
	if err != nil {
		return models.CertificateRecord{}, err
	}
	if !rec.Student.Equal(student) {
		return models.CertificateRecord{}, dErrors.New(dErrors.CodeNotFound, "Certificate not found")
	}
	return rec, nil
}

// GetStudentCertificateByCourseType returns the student's records of a course
// type and their count.
func (r *Registry) GetStudentCertificateByCourseType(student domain.Identity, courseType string) ([]models.CertificateRecord, int) {
	key := indexKey(courseType)
	out := r.studentWhere(student, func(rec models.CertificateRecord) bool {
		return key != "" && indexKey(rec.CourseType) == key
	})
	return out, len(out)
}

// GetStudentCertificateByCourseLevel returns the student's records of a
// course level and their count.
func (r *Registry) GetStudentCertificateByCourseLevel(student domain.Identity, level string) ([]models.CertificateRecord, int) {
	key := indexKey(level)
	out := r.studentWhere(student, func(rec models.CertificateRecord) bool {
		return key != "" && indexKey(rec.CourseLevel) == key
	})
	return out, len(out)
}

// GetStudentCertificateByCourseName matches keyword against course names.
func (r *Registry) GetStudentCertificateByCourseName(student domain.Identity, keyword string) ([]models.CertificateRecord, error) {
	key, err := keywordKey(keyword)
	if err != nil {
		return nil, err
	}
	return r.studentWhere(student, func(rec models.CertificateRecord) bool {
		return strings.Contains(strings.ToLower(rec.CourseName), key)
	}), nil
}

// GetStudentCertificatesByDate returns the student's records issued within
// [from, to].
func (r *Registry) GetStudentCertificatesByDate(student domain.Identity, from, to time.Time) ([]models.CertificateRecord, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	return r.studentWhere(student, inRange(from, to)), nil
}

// AdminSearchByCourseType searches every student's records by course type.
func (r *Registry) AdminSearchByCourseType(caller domain.Identity, courseType string) ([]models.CertificateRecord, error) {
	if err := r.requireRole(caller, models.RoleAdmin); err != nil {
		return nil, err
	}
	key, err := keywordKey(courseType)
	if err != nil {
		return nil, err
	}
	return r.indexed(r.byCourseType, key), nil
}

// AdminSearchByCourseLevel searches every student's records by course level.
func (r *Registry) AdminSearchByCourseLevel(caller domain.Identity, level string) ([]models.CertificateRecord, error) {
	if err := r.requireRole(caller, models.RoleAdmin); err != nil {
		return nil, err
	}
	key, err := keywordKey(level)
	if err != nil {
		return nil, err
	}
	return r.indexed(r.byCourseLevel, key), nil
}

func (r *Registry) AdminSearchByCourseName(caller domain.Identity, keyword string) ([]models.CertificateRecord, error) {
	if err := r.requireRole(caller, models.RoleAdmin); err != nil {
		return nil, err
	}
	key, err := keywordKey(keyword)
	if err != nil {
		return nil, err
	}
	return r.where(func(rec models.CertificateRecord) bool {
		return strings.Contains(strings.ToLower(rec.CourseName), key)
	}), nil
}

func (r *Registry) AdminSearchByStudentName(caller domain.Identity, keyword string) ([]models.CertificateRecord, error) {
	if err := r.requireRole(caller, models.RoleAdmin); err != nil {
		return nil, err
	}
	key, err := keywordKey(keyword)
	if err != nil {
		return nil, err
	}
	return r.where(func(rec models.CertificateRecord) bool {
		return strings.Contains(strings.ToLower(rec.StudentName), key)
	}), nil
}

func (r *Registry) AdminSearchByDate(caller domain.Identity, from, to time.Time) ([]models.CertificateRecord, error) {
	if err := r.requireRole(caller, models.RoleAdmin); err != nil {
		return nil, err
	}
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	return r.where(inRange(from, to)), nil
}

func (r *Registry) studentWhere(student domain.Identity, keep func(models.CertificateRecord) bool) []models.CertificateRecord {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	out := []models.CertificateRecord{}
	for _, idx := range r.byStudent[normalizeIdentity(student)] {
		if rec := r.records[idx]; keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func (r *Registry) indexed(index map[string][]int, key string) []models.CertificateRecord {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	out := make([]models.CertificateRecord, 0, len(index[key]))
	for _, idx := range index[key] {
		out = append(out, r.records[idx])
	}
	return out
}

func (r *Registry) where(keep func(models.CertificateRecord) bool) []models.CertificateRecord {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	out := []models.CertificateRecord{}
	for _, rec := range r.records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func keywordKey(keyword string) (string, error) {
	key := indexKey(keyword)
	if key == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "keyword cannot be empty")
	}
	return key, nil
}

func checkRange(from, to time.Time) error {
	if from.IsZero() || to.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "from and to are required")
	}
	if to.Before(from) {
		return dErrors.New(dErrors.CodeInvalidInput, "from must not be after to")
	}
	return nil
}

func inRange(from, to time.Time) func(models.CertificateRecord) bool {
	return func(rec models.CertificateRecord) bool {
		return !rec.IssuedDate.Before(from) && !rec.IssuedDate.After(to)
	}
}

func normalizeIdentity(id domain.Identity) domain.Identity {
	return domain.Identity(strings.ToLower(strings.TrimSpace(id.String())))
}
