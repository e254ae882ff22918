// Package store persists weekly telemetry datasets and their manual
// corrections to PostgreSQL.
package store

import (
	"strings"
	"time"
)

// Data types a stored week can carry.
const (
	DataTypeTelemetry   = "telemetry"
	DataTypeTotalAmount = "totalAmount"
	DataTypeBoth        = "both"
)

// Week is one stored reporting window. Deleting a week cascades to its data
// points and manual corrections.
type Week struct {
	ID           string             `gorm:"primaryKey" json:"id"`
	StartDate    string             `gorm:"index:idx_start_date;not null" json:"startDate"`
	EndDate      string             `gorm:"not null" json:"endDate"`
	DataType     string             `gorm:"not null" json:"dataType"`
	CreatedAt    time.Time          `gorm:"autoCreateTime" json:"createdAt"`
	LastModified time.Time          `gorm:"not null" json:"lastModified"`
	DataPoints   []DataPoint        `gorm:"foreignKey:WeekID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
	Corrections  []ManualCorrection `gorm:"foreignKey:WeekID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for the Week model.
func (Week) TableName() string {
	return "weeks"
}

// DataPoint is one stored sensor sample. Data holds the JSON-serialized
// open field map of the record, without the Time key.
type DataPoint struct {
	ID     uint   `gorm:"primaryKey" json:"-"`
	WeekID string `gorm:"index:idx_week_time;not null" json:"-"`
	Time   string `gorm:"index:idx_week_time;not null" json:"time"`
	Data   string `gorm:"type:text;not null" json:"data"`
}

// TableName specifies the table name for the DataPoint model.
func (DataPoint) TableName() string {
	return "data_points"
}

// ManualCorrection is an operator-entered override for a week's summary
// figures.
type ManualCorrection struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	WeekID               string    `gorm:"index:idx_correction_week;not null" json:"weekId"`
	PumpDuration         float64   `json:"pumpDuration"`
	TotalFlowARA         float64   `json:"totalFlowARA"`
	TotalFlowGalgenkanal float64   `json:"totalFlowGalgenkanal"`
	Notes                string    `json:"notes"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName specifies the table name for the ManualCorrection model.
func (ManualCorrection) TableName() string {
	return "manual_corrections"
}

// WeekID derives the storage key for a reporting window from its date
// strings: slashes become dashes and the dates are joined as
// week_<start>_to_<end>.
func WeekID(startDate, endDate string) string {
	start := strings.ReplaceAll(startDate, "/", "-")
	end := strings.ReplaceAll(endDate, "/", "-")
	return "week_" + start + "_to_" + end
}
